package notifyengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"errwatch/internal/channels"
	"errwatch/internal/model"
	"errwatch/internal/store"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []model.AlertPayload
}

func (r *recordingDispatcher) Dispatch(_ context.Context, _ model.Project, _ model.AlertRule, alert model.AlertPayload) []channels.ChannelResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, alert)
	return []channels.ChannelResult{{Type: "webhook", Target: "https://h/x"}}
}

func (r *recordingDispatcher) snapshot() []model.AlertPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.AlertPayload(nil), r.calls...)
}

func newTestEngine(t *testing.T, cfg Config, now time.Time) (*Engine, *recordingDispatcher, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	disp := &recordingDispatcher{}
	log := zap.NewNop().Sugar()
	clock := func() time.Time { return now }
	return New(ms.NotificationState(), disp, cfg, clock, log), disp, ms
}

func TestProcessTriggeredAlert_ZeroWindowFlushesSynchronously(t *testing.T) {
	now := time.Now()
	e, disp, _ := newTestEngine(t, Config{AggregationWindow: 0, DefaultCooldown: 30 * time.Minute}, now)

	rule := model.AlertRule{RuleID: "r1", Name: "rule1"}
	alert := model.AlertPayload{Title: "boom", Severity: model.SeverityHigh, Environment: []string{"production"}, Occurrences: 1}

	err := e.ProcessTriggeredAlert(context.Background(), model.Project{ProjectID: "p1"}, rule, alert)
	require.NoError(t, err)

	calls := disp.snapshot()
	require.Len(t, calls, 1)
	assert.False(t, calls[0].Metadata.Aggregation.Aggregated)
	assert.Equal(t, 1, calls[0].Metadata.Aggregation.Count)
	assert.NotEmpty(t, calls[0].AlertID)
}

func TestProcessTriggeredAlert_AggregatesWithinWindow(t *testing.T) {
	now := time.Now()
	e, disp, _ := newTestEngine(t, Config{AggregationWindow: 30 * time.Millisecond, DefaultCooldown: 0}, now)

	rule := model.AlertRule{RuleID: "r1", Name: "rule1"}
	for i := 0; i < 5; i++ {
		alert := model.AlertPayload{Title: "boom", Severity: model.SeverityCritical, Environment: []string{"production"}, Occurrences: 1}
		require.NoError(t, e.ProcessTriggeredAlert(context.Background(), model.Project{ProjectID: "p1"}, rule, alert))
	}

	require.Eventually(t, func() bool { return len(disp.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)

	calls := disp.snapshot()
	assert.Equal(t, 5, calls[0].Metadata.Aggregation.Count)
	assert.Contains(t, calls[0].Title, "5 alerts")
	assert.NotEmpty(t, calls[0].Metadata.Aggregation.Sample)
}

func TestAcknowledge_StopsEscalation(t *testing.T) {
	now := time.Now()
	e, disp, _ := newTestEngine(t, Config{AggregationWindow: 0, DefaultCooldown: 0, DefaultEscalationMinutes: 120}, now)

	rule := model.AlertRule{
		RuleID: "r1",
		Name:   "rule1",
		Escalation: &model.Escalation{
			Enabled: true,
			Levels: []model.EscalationLevel{
				{Name: "page", AfterMinutes: 0.001, Channels: []model.ChannelTarget{{Type: "webhook", Target: "https://m"}}},
			},
		},
	}
	alert := model.AlertPayload{Title: "boom", Severity: model.SeverityHigh, Environment: []string{"production"}}

	require.NoError(t, e.ProcessTriggeredAlert(context.Background(), model.Project{ProjectID: "p1"}, rule, alert))

	calls := disp.snapshot()
	require.Len(t, calls, 1)
	alertID := calls[0].AlertID
	require.NotEmpty(t, alertID)

	found := e.Acknowledge(context.Background(), alertID)
	assert.True(t, found)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, disp.snapshot(), 1, "acknowledged alert must not escalate")
}

func TestAcknowledge_UnknownIDReturnsFalse(t *testing.T) {
	now := time.Now()
	e, _, _ := newTestEngine(t, Config{}, now)
	assert.False(t, e.Acknowledge(context.Background(), "nope"))
	assert.False(t, e.Resolve(context.Background(), "nope"))
}

func TestEscalation_FiresAfterDelayWithoutAcknowledge(t *testing.T) {
	now := time.Now()
	e, disp, _ := newTestEngine(t, Config{AggregationWindow: 0, DefaultCooldown: 0}, now)

	rule := model.AlertRule{
		RuleID: "r1",
		Name:   "rule1",
		Escalation: &model.Escalation{
			Enabled: true,
			Levels: []model.EscalationLevel{
				{Name: "page", AfterMinutes: 0.001, Channels: []model.ChannelTarget{{Type: "webhook", Target: "https://m"}}},
			},
		},
	}
	alert := model.AlertPayload{Title: "boom", Severity: model.SeverityHigh, Environment: []string{"production"}}
	require.NoError(t, e.ProcessTriggeredAlert(context.Background(), model.Project{ProjectID: "p1"}, rule, alert))

	require.Eventually(t, func() bool { return len(disp.snapshot()) == 2 }, 2*time.Second, 5*time.Millisecond)

	calls := disp.snapshot()
	assert.True(t, calls[1].Metadata.Escalation)
	assert.Equal(t, calls[0].AlertID, calls[1].Metadata.OriginalAlertID)
}
