package notify

import (
	"context"
	"errors"

	"shopstock/internal/domain"
)

// Bus delivers change events. Consumers treat events as hints to re-fetch.
type Bus interface {
	Publish(ctx context.Context, event domain.Event) error
}

type Noop struct{}

func (Noop) Publish(_ context.Context, _ domain.Event) error {
	return nil
}

// Multi fans an event out to every bus and joins their errors.
type Multi []Bus

func (m Multi) Publish(ctx context.Context, event domain.Event) error {
	var errs []error
	for _, bus := range m {
		if err := bus.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory.
type Recorder struct {
	Events []domain.Event
}

func (r *Recorder) Publish(_ context.Context, event domain.Event) error {
	r.Events = append(r.Events, event)
	return nil
}

func (r *Recorder) Names() []string {
	names := make([]string, 0, len(r.Events))
	for _, e := range r.Events {
		names = append(names, e.Name)
	}
	return names
}
