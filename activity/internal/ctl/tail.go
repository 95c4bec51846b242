package ctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-activity/activity/internal/impersonation"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/models"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/recorder"
	"github.com/telhawk-systems/telhawk-activity/activity/pkg/output"
	"github.com/telhawk-systems/telhawk-activity/common/audit"
	"github.com/telhawk-systems/telhawk-activity/common/messaging"
	natsclient "github.com/telhawk-systems/telhawk-activity/common/messaging/nats"
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Stream recorded activity from NATS",
	Long: `Subscribe to the activity event stream and print events as they are
recorded. Signatures are checked when auth.signing_secret is set.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.NATS.Enabled {
			return errors.New("nats is disabled in the service config (nats.enabled)")
		}

		types, _ := cmd.Flags().GetStringSlice("type")
		withImp, _ := cmd.Flags().GetBool("impersonation")
		subjects, err := tailSubjects(types, withImp)
		if err != nil {
			return err
		}

		natsCfg := natsclient.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.Token = cfg.NATS.Token
		natsCfg.Name = "activityctl-tail"
		natsCfg.Logger = logger
		client, err := natsclient.NewClient(natsCfg)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer client.Close()

		t := newTailer(audit.NewEventSigner(cfg.Auth.SigningSecret), outputFormat)
		for _, s := range subjects {
			if _, err := client.Subscribe(s, t.handle); err != nil {
				return fmt.Errorf("subscribe %s: %w", s, err)
			}
		}
		output.Info("tailing %s (ctrl-c to stop)", strings.Join(subjects, ", "))

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()
		return nil
	},
}

func init() {
	tailCmd.Flags().StringSlice("type", nil, "only these activity types (repeatable)")
	tailCmd.Flags().Bool("impersonation", true, "include impersonation start/end notifications")
	rootCmd.AddCommand(tailCmd)
}

func tailSubjects(types []string, withImpersonation bool) ([]string, error) {
	var subjects []string
	if len(types) == 0 {
		subjects = append(subjects, messaging.SubjectActivityEventsRecorded+".>")
	}
	for _, typ := range types {
		if !models.ActivityType(typ).Valid() {
			return nil, fmt.Errorf("unknown activity type %q", typ)
		}
		subjects = append(subjects, messaging.ActivityTypeSubject(typ))
	}
	if withImpersonation {
		subjects = append(subjects, messaging.SubjectImpersonationStarted, messaging.SubjectImpersonationEnded)
	}
	return subjects, nil
}

// tailRecord is what tail prints in json and yaml mode.
type tailRecord struct {
	Subject   string                   `json:"subject" yaml:"subject"`
	Event     *recorder.SignedEvent    `json:"event,omitempty" yaml:"event,omitempty"`
	Lifecycle *impersonation.Lifecycle `json:"impersonation,omitempty" yaml:"impersonation,omitempty"`
	Verified  *bool                    `json:"verified,omitempty" yaml:"verified,omitempty"`
}

type tailer struct {
	mu     sync.Mutex
	signer *audit.EventSigner
	format string
}

func newTailer(signer *audit.EventSigner, format string) *tailer {
	return &tailer{signer: signer, format: format}
}

// handle prints one message. Subscriptions deliver concurrently so output is
// serialized.
func (t *tailer) handle(_ context.Context, msg *messaging.Message) error {
	rec, err := t.decode(msg)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.format {
	case output.FormatJSON:
		return output.JSON(rec)
	case output.FormatYAML:
		fmt.Fprintln(output.Out, "---")
		return output.YAML(rec)
	}

	if rec.Lifecycle != nil {
		l := rec.Lifecycle
		output.Warn("%s %s admin=%s target=%s log=%s",
			l.At.UTC().Format(time.RFC3339), l.Status, l.AdminPrincipalID, l.ImpersonatedPrincipalID, l.ImpersonationLogID)
		return nil
	}

	e := rec.Event
	line := fmt.Sprintf("%s %-19s %s %s %s %d %s",
		e.CreatedAt.UTC().Format(time.RFC3339), e.ActivityType, e.PrincipalID,
		e.RequestMethod, e.RequestPath, e.ResponseStatus, verifiedLabel(rec.Verified))
	if e.IsSuccessful {
		output.Info("%s", line)
	} else {
		output.Error("%s", line)
	}
	return nil
}

func (t *tailer) decode(msg *messaging.Message) (*tailRecord, error) {
	rec := &tailRecord{Subject: msg.Subject}

	if strings.HasPrefix(msg.Subject, messaging.SubjectActivityEventsRecorded) {
		var se recorder.SignedEvent
		if err := json.Unmarshal(msg.Data, &se); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		if se.ActivityEvent == nil {
			return nil, errors.New("decode event: empty payload")
		}
		rec.Event = &se
		if t.signer.Enabled() {
			ok := t.verify(&se, msg.Metadata[messaging.HeaderSignature])
			rec.Verified = &ok
		}
		return rec, nil
	}

	var l impersonation.Lifecycle
	if err := json.Unmarshal(msg.Data, &l); err != nil {
		return nil, fmt.Errorf("decode impersonation: %w", err)
	}
	rec.Lifecycle = &l
	return rec, nil
}

func (t *tailer) verify(se *recorder.SignedEvent, header string) bool {
	sig := se.Signature
	if sig == "" {
		sig = header
	}
	if sig == "" {
		return false
	}
	data, err := json.Marshal(se.ActivityEvent)
	if err != nil {
		return false
	}
	return t.signer.Verify(se.ID, se.CreatedAt, se.PrincipalID, data, sig)
}

func verifiedLabel(v *bool) string {
	switch {
	case v == nil:
		return "unsigned"
	case *v:
		return "verified"
	default:
		return "INVALID"
	}
}
