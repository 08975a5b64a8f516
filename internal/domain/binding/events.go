package binding

import "context"

// Event is emitted after a committed binding change. SerialNumber is nil
// when the flower lost its pot.
type Event struct {
	FlowerID     string
	SerialNumber *string
}

type Notifier interface {
	OnBindingChanged(ctx context.Context, event Event)
}

type noopNotifier struct{}

func (noopNotifier) OnBindingChanged(context.Context, Event) {}

// Notifiers fans an event out to several notifiers in order.
type Notifiers []Notifier

func (n Notifiers) OnBindingChanged(ctx context.Context, event Event) {
	for _, notifier := range n {
		if notifier != nil {
			notifier.OnBindingChanged(ctx, event)
		}
	}
}
