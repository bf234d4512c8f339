// Package notify is the outbound event queue. The engine publishes after its
// transaction commits and never waits on delivery; a separate consumer turns
// queued events into webhooks or log lines.
package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

const (
	TypeSparesRequested = "spares.requested"
	TypeWorkDispatched  = "work.dispatched"
	TypeQCFailed        = "qc.failed"
	TypeRackUnplaced    = "rack.unplaced"
)

// Event is one notification. Recipient is an actor id when the event is
// addressed to a person (for example the previous coordinator after a QC
// failure) and empty for floor-wide broadcasts.
type Event struct {
	Type        string         `json:"type"`
	DeviceID    string         `json:"device_id,omitempty"`
	RepairJobID string         `json:"repair_job_id,omitempty"`
	Recipient   string         `json:"recipient,omitempty"`
	Message     string         `json:"message"`
	Payload     map[string]any `json:"payload,omitempty"`
	At          string         `json:"at"`
}

// Publisher enqueues an event for later delivery.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Sender delivers one event to its final destination.
type Sender interface {
	Send(ctx context.Context, evt Event) error
}

// ErrQueueFull is returned by Channel when the buffer is exhausted.
var ErrQueueFull = errors.New("notification queue full")

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// LogPublisher writes events to the log instead of queueing them.
type LogPublisher struct {
	Log *zap.Logger
}

func (p LogPublisher) Publish(_ context.Context, evt Event) error {
	logEvent(p.Log, "notification", evt)
	return nil
}

// LogSender is the Sender counterpart of LogPublisher.
type LogSender struct {
	Log *zap.Logger
}

func (s LogSender) Send(_ context.Context, evt Event) error {
	logEvent(s.Log, "notification delivered", evt)
	return nil
}

func logEvent(log *zap.Logger, msg string, evt Event) {
	if log == nil {
		return
	}
	log.Info(msg,
		zap.String("type", evt.Type),
		zap.String("device_id", evt.DeviceID),
		zap.String("repair_job_id", evt.RepairJobID),
		zap.String("recipient", evt.Recipient),
		zap.String("message", evt.Message),
	)
}

// Channel is an in-process buffered queue. Publish never blocks.
type Channel struct {
	ch chan Event
}

func NewChannel(size int) *Channel {
	if size <= 0 {
		size = 64
	}
	return &Channel{ch: make(chan Event, size)}
}

func (c *Channel) Publish(_ context.Context, evt Event) error {
	select {
	case c.ch <- evt:
		return nil
	default:
		return ErrQueueFull
	}
}

// Events exposes the queue to a consumer.
func (c *Channel) Events() <-chan Event {
	return c.ch
}

// Drain returns everything currently queued without waiting.
func (c *Channel) Drain() []Event {
	var out []Event
	for {
		select {
		case evt := <-c.ch:
			out = append(out, evt)
		default:
			return out
		}
	}
}

// Pump delivers channel events through sender until ctx is done. Delivery
// failures are logged and the event is dropped.
func Pump(ctx context.Context, c *Channel, sender Sender, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-c.ch:
			if err := sender.Send(ctx, evt); err != nil {
				log.Warn("notification delivery failed", zap.String("type", evt.Type), zap.Error(err))
			}
		}
	}
}
