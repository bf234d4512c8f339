package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisStream publishes events with XADD. Each entry carries the event type
// and its JSON body under "data".
type RedisStream struct {
	Client *redis.Client
	Stream string
	MaxLen int64
}

func (p RedisStream) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: p.Stream,
		Values: map[string]interface{}{"type": evt.Type, "data": string(data)},
	}
	if p.MaxLen > 0 {
		args.MaxLen = p.MaxLen
		args.Approx = true
	}
	return p.Client.XAdd(ctx, args).Err()
}

// Worker consumes a stream through a consumer group, hands each event to
// Sender and acknowledges it on success. Failed entries stay pending and are
// retried the next time the worker starts.
type Worker struct {
	Client   *redis.Client
	Stream   string
	Group    string
	Consumer string
	Sender   Sender
	Log      *zap.Logger
	// Batch caps entries per read. Zero means 10.
	Batch int64
	// Block is the XREADGROUP wait. Zero means 5s, negative does not block.
	Block time.Duration
}

// EnsureGroup creates the consumer group (and the stream) if missing.
func (w Worker) EnsureGroup(ctx context.Context) error {
	err := w.Client.XGroupCreateMkStream(ctx, w.Stream, w.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", w.Group, err)
	}
	return nil
}

// Run redelivers this consumer's pending entries, then consumes new ones
// until ctx is cancelled.
func (w Worker) Run(ctx context.Context) error {
	if err := w.EnsureGroup(ctx); err != nil {
		return err
	}
	if _, err := w.read(ctx, "0"); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := w.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger().Warn("notification stream read failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// RunOnce reads one batch of new entries and returns how many were delivered.
func (w Worker) RunOnce(ctx context.Context) (int, error) {
	return w.read(ctx, ">")
}

func (w Worker) read(ctx context.Context, id string) (int, error) {
	batch := w.Batch
	if batch <= 0 {
		batch = 10
	}
	block := w.Block
	if block == 0 {
		block = 5 * time.Second
	}
	if id == "0" {
		block = -1
	}
	streams, err := w.Client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    w.Group,
		Consumer: w.Consumer,
		Streams:  []string{w.Stream, id},
		Count:    batch,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, s := range streams {
		for _, msg := range s.Messages {
			if w.handle(ctx, msg) {
				delivered++
			}
		}
	}
	return delivered, nil
}

func (w Worker) handle(ctx context.Context, msg redis.XMessage) bool {
	log := w.logger().With(zap.String("stream_id", msg.ID))
	raw, _ := msg.Values["data"].(string)
	var evt Event
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		// Undecodable entries can never succeed; ack so they do not pin the group.
		log.Error("dropping malformed notification", zap.Error(err))
		w.ack(ctx, msg.ID)
		return false
	}
	if err := w.Sender.Send(ctx, evt); err != nil {
		log.Warn("notification delivery failed", zap.String("type", evt.Type), zap.Error(err))
		return false
	}
	w.ack(ctx, msg.ID)
	return true
}

func (w Worker) ack(ctx context.Context, id string) {
	if err := w.Client.XAck(ctx, w.Stream, w.Group, id).Err(); err != nil {
		w.logger().Warn("notification ack failed", zap.String("stream_id", id), zap.Error(err))
	}
}

func (w Worker) logger() *zap.Logger {
	if w.Log == nil {
		return zap.NewNop()
	}
	return w.Log
}
