package sse

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veil-waf/veil-netflow/internal/db"
)

// PGListener bridges verdict_log NOTIFY payloads to the SSE hub, so every
// replica sharing the database streams every verdict.
type PGListener struct {
	pool   *pgxpool.Pool
	hub    *Hub
	logger *slog.Logger
}

// NewPGListener creates a new PGListener.
func NewPGListener(pool *pgxpool.Pool, hub *Hub, logger *slog.Logger) *PGListener {
	return &PGListener{pool: pool, hub: hub, logger: logger}
}

// Listen blocks until ctx is cancelled or the connection fails.
// Run it inside RunWithRecovery so it reconnects.
func (pl *PGListener) Listen(ctx context.Context) {
	conn, err := pl.pool.Acquire(ctx)
	if err != nil {
		pl.logger.Error("pg-listen: acquire connection failed", "err", err)
		return
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{db.NotifyChannel}.Sanitize()); err != nil {
		pl.logger.Error("pg-listen: LISTEN failed", "channel", db.NotifyChannel, "err", err)
		return
	}
	pl.logger.Info("pg-listen: subscribed", "channel", db.NotifyChannel)

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			pl.logger.Error("pg-listen: notification error", "err", err)
			return
		}
		pl.dispatch([]byte(notification.Payload))
	}
}

func (pl *PGListener) dispatch(payload []byte) {
	var v db.VerdictEntry
	if err := json.Unmarshal(payload, &v); err != nil {
		pl.logger.Warn("pg-listen: unmarshal payload failed", "err", err)
		return
	}
	pl.hub.Publish(v.Operation, Event{Type: "verdict", Data: payload})
}
