package channels

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"errwatch/internal/model"
)

func TestSendSlack_PostsBlocksAndText(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 1<<16)
		n, _ := r.Body.Read(buf)
		gotBody = buf[:n]
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	log := zap.NewNop().Sugar()
	d := New(2*time.Second, nil, log)
	rule := model.AlertRule{RuleID: "r1", Name: "rule1"}

	alert := testAlert()
	alert.Context.WhyItMatters = "Checkout is degraded for enterprise customers."

	err := d.sendSlack(context.Background(), srv.URL, model.Project{ProjectID: "p1"}, rule, alert)
	require.NoError(t, err)
	assert.Contains(t, string(gotBody), "New error in checkout")
	assert.Contains(t, string(gotBody), "View Error")
}

func TestSendSlack_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	log := zap.NewNop().Sugar()
	d := New(2*time.Second, nil, log)
	rule := model.AlertRule{RuleID: "r1", Name: "rule1"}

	var lastErr error
	for i := 0; i < 6; i++ {
		lastErr = d.sendSlack(context.Background(), srv.URL, model.Project{ProjectID: "p1"}, rule, testAlert())
	}
	require.Error(t, lastErr)
}
