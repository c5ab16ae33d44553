package otel

import (
	"github.com/petal-labs/vigil/bus"
)

// Handler consumes monitoring events.
type Handler interface {
	Handle(bus.Event)
}

// Observer pumps bus events into telemetry handlers on a background
// goroutine so slow exporters never stall the check loop.
type Observer struct {
	sub  bus.Subscription
	done chan struct{}
}

// NewObserver subscribes to all events on the bus and dispatches each one
// to the given handlers in order.
func NewObserver(eb bus.EventBus, handlers ...Handler) *Observer {
	o := &Observer{
		sub:  eb.SubscribeAll(),
		done: make(chan struct{}),
	}

	go func() {
		defer close(o.done)
		for e := range o.sub.Events() {
			for _, h := range handlers {
				h.Handle(e)
			}
		}
	}()

	return o
}

// Close unsubscribes and waits for in-flight dispatches to finish.
func (o *Observer) Close() error {
	err := o.sub.Close()
	<-o.done
	return err
}
