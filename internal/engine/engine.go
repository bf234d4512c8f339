package engine

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"refurbline/internal/config"
	"refurbline/internal/events"
	"refurbline/internal/notify"
	"refurbline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Notify notify.Publisher
	Log    *zap.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{},
		Config: cfg,
		Notify: notify.Nop{},
		Log:    zap.NewNop(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w.Append(ctx, tx, evtType, entityKind, entityID, actorID, payload)
}

// publish hands events to the outbound queue after a commit. Failures are
// logged and never reach the caller.
func (e Engine) publish(ctx context.Context, evts ...notify.Event) {
	if e.Notify == nil {
		return
	}
	for _, evt := range evts {
		if evt.At == "" {
			evt.At = e.stamp()
		}
		if err := e.Notify.Publish(ctx, evt); err != nil {
			e.logger().Warn("notification publish failed",
				zap.String("type", evt.Type),
				zap.String("device_id", evt.DeviceID),
				zap.Error(err))
		}
	}
}

func newID() string {
	return uuid.NewString()
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
