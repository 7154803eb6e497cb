package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/veil-waf/veil-netflow/internal/db"
	"github.com/veil-waf/veil-netflow/internal/metrics"
	"github.com/veil-waf/veil-netflow/internal/sse"
)

// VerdictStore is the verdict log.
type VerdictStore interface {
	InsertVerdict(ctx context.Context, v *db.VerdictEntry) error
	GetVerdict(ctx context.Context, id string) (*db.VerdictEntry, error)
	RecentVerdicts(ctx context.Context, limit int) ([]db.VerdictEntry, error)
	Stats(ctx context.Context) (*db.Stats, error)
}

// Broadcaster pushes verdicts to websocket clients.
type Broadcaster interface {
	Broadcast(v *db.VerdictEntry)
}

// EventPublisher forwards verdicts to a message bus.
type EventPublisher interface {
	Publish(v *db.VerdictEntry) error
}

// Sinks fans a finished verdict out to every configured destination. Any
// field may be nil. When Store is set the SSE hub is fed by the database
// NOTIFY trigger instead of directly.
type Sinks struct {
	Store   VerdictStore
	Hub     *sse.Hub
	WS      Broadcaster
	Events  EventPublisher
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	wg sync.WaitGroup
}

const sinkTimeout = 5 * time.Second

// Deliver sends v asynchronously. Failures are logged and counted, never
// returned: the caller has already answered the request.
func (s *Sinks) Deliver(ctx context.Context, v *db.VerdictEntry) {
	if s == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, sinkTimeout)
		defer cancel()
		s.deliver(ctx, v)
	}()
}

// Wait blocks until in-flight deliveries finish.
func (s *Sinks) Wait() {
	if s != nil {
		s.wg.Wait()
	}
}

func (s *Sinks) deliver(ctx context.Context, v *db.VerdictEntry) {
	if s.Store != nil {
		if err := s.Store.InsertVerdict(ctx, v); err != nil {
			s.fail("db", v, err)
		}
	} else if s.Hub != nil {
		if data, err := json.Marshal(v); err != nil {
			s.fail("sse", v, err)
		} else {
			s.Hub.Publish(v.Operation, sse.Event{Type: "verdict", Data: data})
		}
	}
	if s.WS != nil {
		s.WS.Broadcast(v)
	}
	if s.Events != nil {
		if err := s.Events.Publish(v); err != nil {
			s.fail("nats", v, err)
		}
	}
}

func (s *Sinks) fail(sink string, v *db.VerdictEntry, err error) {
	s.Metrics.IncSinkErrors(sink)
	s.Logger.Warn("verdict sink failed", "sink", sink, "verdict_id", v.ID, "err", err)
}
