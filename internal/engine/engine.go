// Package engine runs live quiz sessions: the session state machine, the
// buzzer arbiter, scoring and the team roster.
//
// Every mutating operation takes the session's lock, performs its reads and
// writes inside one Store.Update and publishes its events before releasing
// the lock, so subscribers observe events in mutation order.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/playperu/quizarena/internal/arena"
)

const (
	lockStripes = 256

	// DefaultMaxTeams applies when a session is created without a team cap.
	DefaultMaxTeams = 60

	defaultPinAttempts = 10
)

type Options struct {
	Store       Store
	Catalog     QuestionCatalog
	Gate        EntitlementGate
	Broadcaster Broadcaster
	Rand        Rand
	Clock       func() time.Time
	Logger      *slog.Logger
	Tracer      trace.Tracer

	DefaultMaxTeams int
	PinAttempts     int
}

type Engine struct {
	store   Store
	catalog QuestionCatalog
	gate    EntitlementGate
	bc      Broadcaster
	rand    Rand
	now     func() time.Time
	logger  *slog.Logger
	tracer  trace.Tracer

	defaultMaxTeams int
	pinAttempts     int

	locks [lockStripes]sync.Mutex
}

func New(opts Options) *Engine {
	e := &Engine{
		store:           opts.Store,
		catalog:         opts.Catalog,
		gate:            opts.Gate,
		bc:              opts.Broadcaster,
		rand:            opts.Rand,
		now:             opts.Clock,
		logger:          opts.Logger,
		tracer:          opts.Tracer,
		defaultMaxTeams: opts.DefaultMaxTeams,
		pinAttempts:     opts.PinAttempts,
	}
	if e.gate == nil {
		e.gate = Unlimited{}
	}
	if e.bc == nil {
		e.bc = nopBroadcaster{}
	}
	if e.rand == nil {
		e.rand = NewRand(0)
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("github.com/playperu/quizarena/internal/engine")
	}
	if e.defaultMaxTeams <= 0 {
		e.defaultMaxTeams = DefaultMaxTeams
	}
	if e.pinAttempts <= 0 {
		e.pinAttempts = defaultPinAttempts
	}
	return e
}

func newID() string { return uuid.NewString() }

func (e *Engine) lock(sessionID string) func() {
	m := &e.locks[xxhash.Sum64String(sessionID)%lockStripes]
	m.Lock()
	return m.Unlock
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "engine."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		if arena.KindOf(err) == arena.KindInternal {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}

// mutate runs fn inside a store transaction while holding the session lock
// and publishes the collected events once the transaction commits.
func (e *Engine) mutate(ctx context.Context, sessionID string, fn func(tx SessionTx, out *outbox) error) error {
	unlock := e.lock(sessionID)
	defer unlock()

	out := &outbox{sessionID: sessionID}
	err := e.store.Update(ctx, sessionID, func(tx SessionTx) error {
		out.events = out.events[:0]
		return fn(tx, out)
	})
	if err != nil {
		return storeErr(err)
	}
	for _, ev := range out.events {
		e.bc.Publish(ctx, ev)
	}
	return nil
}

func (e *Engine) view(ctx context.Context, sessionID string, fn func(SessionReader) error) error {
	return storeErr(e.store.View(ctx, sessionID, fn))
}

// storeErr passes classified errors through and marks everything else as a
// storage failure.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if arena.KindOf(err) != arena.KindInternal {
		return err
	}
	return fmt.Errorf("store: %w", err)
}

func (e *Engine) question(ctx context.Context, id string) (arena.Question, error) {
	q, err := e.catalog.Question(ctx, id)
	if err != nil {
		return arena.Question{}, storeErr(err)
	}
	return q, nil
}
