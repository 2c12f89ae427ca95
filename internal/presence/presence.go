package presence

import (
	"log/slog"

	"github.com/example/moto-driver/internal/offer"
)

// Log reports presence changes to the structured log only.
type Log struct {
	Logger *slog.Logger
}

func (l Log) SetStatus(text string) { l.logger().Info("presence", "status", text) }
func (l Log) Stop()                 { l.logger().Info("presence stopped") }

func (l Log) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

// Multi fans presence changes out to several notifiers in order.
type Multi []offer.Presence

func (m Multi) SetStatus(text string) {
	for _, p := range m {
		p.SetStatus(text)
	}
}

func (m Multi) Stop() {
	for _, p := range m {
		p.Stop()
	}
}
