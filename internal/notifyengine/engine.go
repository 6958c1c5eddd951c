// Package notifyengine aggregates triggered alerts into time-bounded
// buckets, enforces per-rule cooldowns, dispatches through the channel
// layer, and escalates unresolved alerts through fallback channels on a
// timer ladder. All mutable state lives on Engine; there are no
// package-level globals, so tests can construct as many independent
// engines as they need.
package notifyengine

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"errwatch/internal/channels"
	"errwatch/internal/model"
	"errwatch/internal/store"
)

// ChannelDispatcher delivers an alert to every channel on a rule. The
// engine depends on this interface rather than *channels.Dispatcher
// directly so tests can substitute a recorder.
type ChannelDispatcher interface {
	Dispatch(ctx context.Context, project model.Project, rule model.AlertRule, alert model.AlertPayload) []channels.ChannelResult
}

// Clock abstracts the current time for deterministic tests.
type Clock func() time.Time

// Config holds the engine's non-negative, independently-defaultable
// timing knobs.
type Config struct {
	AggregationWindow        time.Duration
	DefaultCooldown          time.Duration
	DefaultEscalationMinutes float64
}

type bucket struct {
	project   model.Project
	rule      model.AlertRule
	alerts    []model.AlertPayload
	startedAt time.Time
	timer     *time.Timer
}

type escalationState struct {
	entry model.EscalationEntry
	timer *time.Timer
}

// Engine owns the aggregation buckets, cooldown map, and escalation
// ladders for one process. Construct with New and call Start once the
// store is ready to serve restart recovery.
type Engine struct {
	mu sync.Mutex

	state      store.NotificationStateStore
	dispatcher ChannelDispatcher
	cfg        Config
	now        Clock
	log        *zap.SugaredLogger

	cooldowns   map[string]int64
	buckets     map[string]*bucket
	escalations map[string]*escalationState
}

// New returns an Engine. now defaults to time.Now when nil.
func New(state store.NotificationStateStore, dispatcher ChannelDispatcher, cfg Config, now Clock, log *zap.SugaredLogger) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		state:       state,
		dispatcher:  dispatcher,
		cfg:         cfg,
		now:         now,
		log:         log,
		cooldowns:   make(map[string]int64),
		buckets:     make(map[string]*bucket),
		escalations: make(map[string]*escalationState),
	}
}

func newAlertID() string {
	return ulid.Make().String()
}

// Stop cancels every armed timer. Buckets and escalation state remain
// in memory; Start re-arms escalations from the state store, but the
// timers of pending aggregation buckets are not re-armed.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, b := range e.buckets {
		if b.timer != nil {
			b.timer.Stop()
		}
	}
	for _, es := range e.escalations {
		if es.timer != nil {
			es.timer.Stop()
		}
	}
}
