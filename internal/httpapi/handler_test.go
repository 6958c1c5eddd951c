package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"errwatch/internal/eventbus"
	"errwatch/internal/ingest"
	"errwatch/internal/model"
	"errwatch/internal/store"
)

func newTestHandler(t *testing.T) (*Handler, *store.MemoryStore, string) {
	t.Helper()
	ms := store.NewMemoryStore()
	log := zap.NewNop().Sugar()
	bus := eventbus.New(log)
	ingestor := ingest.New(ms.Issues(), ms.Occurrences(), bus, nil, log)

	const credential = "proj-secret"
	hash, err := bcrypt.GenerateFromPassword([]byte(credential), bcrypt.MinCost)
	require.NoError(t, err)
	ms.Projects().PutProject(model.Project{ProjectID: "p1", CredentialHash: string(hash)})

	return New(ms.Projects(), ingestor, log), ms, credential
}

func newRecorder(t *testing.T, method, path, body, auth string) (*httptest.ResponseRecorder, echo.Context) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("projectId")
	c.SetParamValues("p1")
	return rec, c
}

func TestIngestError_Success(t *testing.T) {
	h, _, credential := newTestHandler(t)
	body := `{"message":"boom","environment":"production","stackTrace":[{"file":"a.go","line":1,"function":"f","inApp":true}]}`
	rec, c := newRecorder(t, http.MethodPost, "/api/errors/p1", body, "Bearer "+credential)

	require.NoError(t, h.ingestError(c))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"isNew":true`)
}

func TestIngestError_InvalidCredentialReturnsUnauthorized(t *testing.T) {
	h, _, _ := newTestHandler(t)
	body := `{"message":"boom","environment":"production"}`
	rec, c := newRecorder(t, http.MethodPost, "/api/errors/p1", body, "Bearer wrong")

	require.NoError(t, h.ingestError(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIngestError_MissingMessageReturnsUnprocessable(t *testing.T) {
	h, _, credential := newTestHandler(t)
	body := `{"environment":"production"}`
	rec, c := newRecorder(t, http.MethodPost, "/api/errors/p1", body, "Bearer "+credential)

	require.NoError(t, h.ingestError(c))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestIngestError_SecondOccurrenceIsNotNew(t *testing.T) {
	h, _, credential := newTestHandler(t)
	body := `{"message":"boom","environment":"production","stackTrace":[{"file":"a.go","line":1,"function":"f"}]}`

	rec1, c1 := newRecorder(t, http.MethodPost, "/api/errors/p1", body, "Bearer "+credential)
	require.NoError(t, h.ingestError(c1))
	assert.Equal(t, http.StatusCreated, rec1.Code)

	rec2, c2 := newRecorder(t, http.MethodPost, "/api/errors/p1", body, "Bearer "+credential)
	require.NoError(t, h.ingestError(c2))
	assert.Equal(t, http.StatusCreated, rec2.Code)
	assert.Contains(t, rec2.Body.String(), `"isNew":false`)
	assert.Contains(t, rec2.Body.String(), `"count":2`)
}
