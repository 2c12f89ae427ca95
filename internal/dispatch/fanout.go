package dispatch

import "github.com/example/moto-driver/internal/models"

type Sink interface {
	Publish(ev models.Event)
}

// Fanout publishes every event to each sink in order.
type Fanout []Sink

func (f Fanout) Publish(ev models.Event) {
	for _, s := range f {
		s.Publish(ev)
	}
}
