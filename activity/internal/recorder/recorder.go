// Package recorder persists activity events and fans them out to
// downstream sinks.
package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/telhawk-activity/activity/internal/metrics"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/models"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/repository"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/sanitize"
	"github.com/telhawk-systems/telhawk-activity/common/audit"
	"github.com/telhawk-systems/telhawk-activity/common/logging"
)

// Sink receives events after they are persisted. Delivery is best-effort.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, events []SignedEvent) error
}

// SignedEvent is an event plus an HMAC over its canonical JSON, so
// consumers outside the primary store can detect tampering.
type SignedEvent struct {
	*models.ActivityEvent
	Signature string `json:"signature,omitempty"`
}

// Recorder is the Activity Recorder.
type Recorder struct {
	repo   repository.ActivityRepository
	sinks  []Sink
	signer *audit.EventSigner
	logger *logging.Logger
	now    func() time.Time
}

type Option func(*Recorder)

func WithSinks(sinks ...Sink) Option {
	return func(r *Recorder) { r.sinks = append(r.sinks, sinks...) }
}

func WithSigner(signer *audit.EventSigner) Option {
	return func(r *Recorder) { r.signer = signer }
}

func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

func New(repo repository.ActivityRepository, logger *logging.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		repo:   repo,
		logger: logging.OrDefault(logger).Component("recorder"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Log validates, sanitizes and persists one event. ID and CreatedAt are
// assigned here; the caller's struct is not modified.
func (r *Recorder) Log(ctx context.Context, event *models.ActivityEvent) (*models.ActivityEvent, error) {
	prepared, err := r.prepare(event)
	if err != nil {
		return nil, err
	}

	if err := r.repo.InsertEvent(ctx, prepared); err != nil {
		metrics.RecordFailures.Inc()
		return nil, fmt.Errorf("record activity: %w", err)
	}

	r.recorded(prepared)
	r.fanOut(ctx, []*models.ActivityEvent{prepared})
	return prepared, nil
}

// LogBatch persists events in one write. Any invalid event rejects the batch.
func (r *Recorder) LogBatch(ctx context.Context, events []*models.ActivityEvent) ([]*models.ActivityEvent, error) {
	if len(events) == 0 {
		return nil, nil
	}

	prepared := make([]*models.ActivityEvent, 0, len(events))
	for i, e := range events {
		p, err := r.prepare(e)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		prepared = append(prepared, p)
	}

	if err := r.repo.InsertEvents(ctx, prepared); err != nil {
		metrics.RecordFailures.Add(float64(len(prepared)))
		return nil, fmt.Errorf("record activity batch: %w", err)
	}

	for _, p := range prepared {
		r.recorded(p)
	}
	r.fanOut(ctx, prepared)
	return prepared, nil
}

// QueryByPrincipal returns a principal's events, newest first.
func (r *Recorder) QueryByPrincipal(ctx context.Context, principalID string, limit, offset int) (*models.Page[*models.ActivityEvent], error) {
	return r.Query(ctx, models.ActivityFilter{PrincipalID: principalID, Limit: limit, Offset: offset})
}

// QueryByType returns events of one type, newest first.
func (r *Recorder) QueryByType(ctx context.Context, activityType models.ActivityType, limit, offset int) (*models.Page[*models.ActivityEvent], error) {
	if !activityType.Valid() {
		return nil, fmt.Errorf("unknown activity type %q: %w", activityType, models.ErrValidation)
	}
	return r.Query(ctx, models.ActivityFilter{ActivityType: activityType, Limit: limit, Offset: offset})
}

// QueryByDateRange returns events created in [start, end), newest first.
func (r *Recorder) QueryByDateRange(ctx context.Context, start, end time.Time, limit, offset int) (*models.Page[*models.ActivityEvent], error) {
	if !start.IsZero() && !end.IsZero() && !start.Before(end) {
		return nil, fmt.Errorf("start must be before end: %w", models.ErrValidation)
	}
	return r.Query(ctx, models.ActivityFilter{Start: start, End: end, Limit: limit, Offset: offset})
}

// Query combines every filter; used by the admin activity listing.
func (r *Recorder) Query(ctx context.Context, filter models.ActivityFilter) (*models.Page[*models.ActivityEvent], error) {
	return r.repo.QueryEvents(ctx, filter)
}

// SweepOld deletes events older than retentionDays.
func (r *Recorder) SweepOld(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive: %w", models.ErrValidation)
	}
	cutoff := r.now().UTC().AddDate(0, 0, -retentionDays)
	n, err := r.repo.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep old activity: %w", err)
	}
	return n, nil
}

func (r *Recorder) prepare(event *models.ActivityEvent) (*models.ActivityEvent, error) {
	if event == nil {
		return nil, fmt.Errorf("event is required: %w", models.ErrValidation)
	}
	if event.PrincipalID == "" {
		return nil, fmt.Errorf("principal id is required: %w", models.ErrValidation)
	}

	e := *event
	if e.ActivityType == "" {
		e.ActivityType = models.ActivityOther
	}
	if !e.ActivityType.Valid() {
		return nil, fmt.Errorf("unknown activity type %q: %w", e.ActivityType, models.ErrValidation)
	}

	e.ID = uuid.Must(uuid.NewV7()).String()
	e.CreatedAt = r.now().UTC()
	if !sanitize.IsClean(event.Metadata) {
		metrics.UnsanitizedEvents.WithLabelValues(string(e.ActivityType)).Inc()
		r.logger.Warn("unsanitized metadata reached the recorder",
			logging.PrincipalID(e.PrincipalID), logging.ActivityType(string(e.ActivityType)))
	}
	e.Metadata = sanitize.Metadata(event.Metadata)
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	return &e, nil
}

func (r *Recorder) recorded(e *models.ActivityEvent) {
	metrics.EventsRecorded.WithLabelValues(string(e.ActivityType), strconv.FormatBool(e.IsSuccessful)).Inc()
}

func (r *Recorder) fanOut(ctx context.Context, events []*models.ActivityEvent) {
	if len(r.sinks) == 0 {
		return
	}

	signed := make([]SignedEvent, len(events))
	for i, e := range events {
		signed[i] = r.sign(e)
	}

	for _, sink := range r.sinks {
		if err := sink.Deliver(ctx, signed); err != nil {
			metrics.SinkFailures.WithLabelValues(sink.Name()).Inc()
			r.logger.WarnContext(ctx, "activity sink delivery failed",
				"sink", sink.Name(), logging.Count(int64(len(signed))), logging.Error(err))
		}
	}
}

func (r *Recorder) sign(e *models.ActivityEvent) SignedEvent {
	se := SignedEvent{ActivityEvent: e}
	if !r.signer.Enabled() {
		return se
	}
	data, err := json.Marshal(e)
	if err != nil {
		return se
	}
	se.Signature = r.signer.Sign(e.ID, e.CreatedAt, e.PrincipalID, data)
	return se
}
