package events

import (
	"context"
	"errors"

	lottery "github.com/R3E-Network/raffle/packages/com.r3e.services.lottery/service"
	"github.com/R3E-Network/raffle/pkg/logger"
)

// Multi publishes each event to every sink. A failing sink does not stop the others;
// the joined error is returned after all sinks ran.
type Multi struct {
	sinks []lottery.EventPublisher
	log   *logger.Logger
}

var _ lottery.EventPublisher = (*Multi)(nil)

// NewMulti creates a fan-out publisher. Nil sinks are skipped.
func NewMulti(log *logger.Logger, sinks ...lottery.EventPublisher) *Multi {
	if log == nil {
		log = logger.NewDefault("events")
	}
	m := &Multi{log: log}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *Multi) Publish(ctx context.Context, event lottery.Event) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			m.log.WithError(err).
				WithField("event_id", event.ID).
				WithField("event_type", string(event.Type)).
				Warn("event sink failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
