package channels

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"errwatch/internal/model"
)

type fakeEmailSender struct {
	mu         sync.Mutex
	recipients []string
	calls      int
}

func (f *fakeEmailSender) SendAlert(_ context.Context, _ model.Project, _ model.AlertRule, _ model.AlertPayload, recipients []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.recipients = append(f.recipients, recipients...)
	return nil
}

func testAlert() model.AlertPayload {
	return model.AlertPayload{
		AlertID:         "a1",
		Title:           "New error in checkout",
		Summary:         "Detected 3 occurrences in the last 5 minutes.",
		Severity:        model.SeverityHigh,
		Environment:     []string{"production"},
		Occurrences:     3,
		AffectedUsers:   2,
		LastDetectedAt:  time.Now(),
		FirstDetectedAt: time.Now(),
		Links:           model.AlertLinks{Dashboard: "https://dash/x", Acknowledge: "https://dash/ack/x"},
	}
}

func TestDispatch_WebhookDiscordTeams(t *testing.T) {
	var hits []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits = append(hits, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	log := zap.NewNop().Sugar()
	email := &fakeEmailSender{}
	d := New(2*time.Second, email, log)

	rule := model.AlertRule{
		RuleID: "r1",
		Name:   "rule1",
		Channels: []model.ChannelTarget{
			{Type: "webhook", Target: srv.URL + "/webhook"},
			{Type: "discord", Target: srv.URL + "/discord"},
			{Type: "teams", Target: srv.URL + "/teams"},
			{Type: "email", Target: "a@x.com"},
			{Type: "email", Target: "b@x.com"},
		},
	}

	results := d.Dispatch(context.Background(), model.Project{ProjectID: "p1"}, rule, testAlert())

	require.Len(t, results, 5)
	for _, r := range results {
		assert.NoError(t, r.Err)
	}
	assert.Equal(t, 1, email.calls)
	assert.ElementsMatch(t, []string{"a@x.com", "b@x.com"}, email.recipients)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"/webhook", "/discord", "/teams"}, hits)
}

func TestDispatch_ChannelFailureIsolated(t *testing.T) {
	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okSrv.Close()
	failSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer failSrv.Close()

	log := zap.NewNop().Sugar()
	d := New(2*time.Second, nil, log)

	rule := model.AlertRule{
		RuleID: "r1",
		Channels: []model.ChannelTarget{
			{Type: "webhook", Target: failSrv.URL},
			{Type: "discord", Target: okSrv.URL},
		},
	}

	results := d.Dispatch(context.Background(), model.Project{ProjectID: "p1"}, rule, testAlert())
	require.Len(t, results, 2)
	assert.Error(t, results[0].Err)
	assert.NoError(t, results[1].Err)
}

func TestSendWebhook_PayloadShape(t *testing.T) {
	received := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		received <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	log := zap.NewNop().Sugar()
	d := New(2*time.Second, nil, log)
	rule := model.AlertRule{RuleID: "r1", Name: "rule1", Type: model.RuleThreshold}

	err := d.sendWebhook(context.Background(), srv.URL, model.Project{ProjectID: "p1"}, rule, testAlert())
	require.NoError(t, err)

	select {
	case body := <-received:
		assert.Contains(t, body, "timestamp")
		assert.Contains(t, body, "project")
		assert.Contains(t, body, "rule")
		assert.Contains(t, body, "alert")
		assert.Contains(t, body, "links")
	case <-time.After(2 * time.Second):
		t.Fatal("expected a webhook call")
	}
}
