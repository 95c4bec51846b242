package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/telhawk-systems/telhawk-activity/common/messaging"
)

// NATSSink publishes each event on activity.events.recorded.<type>.
type NATSSink struct {
	publisher messaging.Publisher
}

func NewNATSSink(publisher messaging.Publisher) *NATSSink {
	return &NATSSink{publisher: publisher}
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Deliver(ctx context.Context, events []SignedEvent) error {
	var errs []error
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal event %s: %w", e.ID, err))
			continue
		}

		msg := &messaging.Message{
			Subject: messaging.ActivityTypeSubject(string(e.ActivityType)),
			Data:    data,
			Metadata: map[string]string{
				messaging.HeaderEventID:      e.ID,
				messaging.HeaderActivityType: string(e.ActivityType),
			},
		}
		if e.Signature != "" {
			msg.Metadata[messaging.HeaderSignature] = e.Signature
		}

		if err := s.publisher.PublishMsg(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("publish event %s: %w", e.ID, err))
		}
	}
	return errors.Join(errs...)
}
