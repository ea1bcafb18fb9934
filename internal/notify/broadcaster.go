package notify

import (
	"context"
	"time"

	"sharedoc/internal/metrics"
	"sharedoc/pkg/logger"
)

const publishTimeout = 2 * time.Second

// Broadcaster is the single point where publish failures are absorbed.
// Send never returns an error and never retries; a failed event is logged
// and dropped so the triggering operation keeps its outcome.
type Broadcaster struct {
	bus Bus
}

func NewBroadcaster(bus Bus) *Broadcaster {
	if bus == nil {
		bus = Noop{}
	}
	return &Broadcaster{bus: bus}
}

// Enabled reports whether events are delivered anywhere.
func (b *Broadcaster) Enabled() bool {
	_, disabled := b.bus.(Noop)
	return !disabled
}

func (b *Broadcaster) Send(ctx context.Context, ev Event) {
	if !b.Enabled() {
		return
	}

	// The caller's request may finish before the publish does.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			metrics.NotificationFailures.WithLabelValues(ev.Name).Inc()
			logger.Sugar.Errorw("Broadcast panicked", "event", ev.Name, "channel", ev.Channel, "panic", r)
		}
	}()

	if err := b.bus.Publish(ctx, ev); err != nil {
		metrics.NotificationFailures.WithLabelValues(ev.Name).Inc()
		logger.Sugar.Errorw("Broadcast failed", "event", ev.Name, "channel", ev.Channel, "error", err)
	}
}
