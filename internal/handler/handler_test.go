package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailtriage/internal/retry"
	"mailtriage/internal/service"
	"mailtriage/internal/service/servicetest"
	"mailtriage/pkg/util"
)

type testServer struct {
	engine *gin.Engine
	store  *servicetest.MemoryStore
	gen    *servicetest.MockGenerator
	lock   *util.LocalLock
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{
		store: servicetest.NewMemoryStore(),
		gen:   &servicetest.MockGenerator{},
		lock:  util.NewLocalLock(),
	}
	policy := retry.DefaultPolicy()
	policy.Sleep = noSleep
	svc := service.NewTriageService(ts.store, ts.store, ts.store, ts.gen, service.Options{
		Retry: policy,
		Sleep: noSleep,
		Lock:  ts.lock,
	})

	emails := NewEmailHandler(svc, zap.NewNop())
	prompts := NewPromptHandler(svc, zap.NewNop())
	r := gin.New()
	api := r.Group("/api")
	api.GET("/emails", emails.ListEmails)
	api.POST("/emails", emails.CreateEmail)
	api.POST("/emails/ingest", emails.Ingest)
	api.POST("/emails/reanalyze", emails.Reanalyze)
	api.GET("/emails/:id", emails.GetEmail)
	api.POST("/emails/:id/analyze", emails.Analyze)
	api.POST("/emails/:id/generate-draft", emails.GenerateDraft)
	api.POST("/emails/:id/chat", emails.Chat)
	api.GET("/emails/:id/suggestions", emails.Suggestions)
	api.GET("/prompts", prompts.ListPrompts)
	api.POST("/prompts/update", prompts.UpdatePrompts)
	ts.engine = r
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(strings.TrimSpace(w.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

const meetingJSON = `{"category":"Meeting","summary":"Sync on Monday.","action_items":[]}`

func TestIngestNothingToDo(t *testing.T) {
	ts := newTestServer(t)

	w, body := ts.do(t, http.MethodPost, "/api/emails/ingest", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "No new emails to process.", body["message"])
	assert.EqualValues(t, 0, body["total"])
}

func TestIngestSummary(t *testing.T) {
	ts := newTestServer(t)
	ts.store.AddEmail("alice.manager@company.com", "Sync", "Monday?")
	ts.store.AddEmail("bob.developer@company.com", "PR review", "Please review")
	ts.gen.On("Generate", mock.Anything, servicetest.Op("analyze")).Return(meetingJSON, nil)

	w, body := ts.do(t, http.MethodPost, "/api/emails/ingest", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Ingestion complete", body["message"])
	assert.EqualValues(t, 2, body["processed"])
	assert.EqualValues(t, 0, body["failed"])
	assert.EqualValues(t, 2, body["total"])
}

func TestIngestWhileBatchRunning(t *testing.T) {
	ts := newTestServer(t)
	unlock, ok, err := ts.lock.TryLock(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	defer unlock()

	w, _ := ts.do(t, http.MethodPost, "/api/emails/ingest", "")

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestReanalyze(t *testing.T) {
	ts := newTestServer(t)
	ts.store.AddEmail("alice.manager@company.com", "Sync", "Monday?")
	ts.gen.On("Generate", mock.Anything, servicetest.Op("analyze")).Return(meetingJSON, nil)

	w, body := ts.do(t, http.MethodPost, "/api/emails/reanalyze", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Re-analysis complete", body["message"])
	assert.EqualValues(t, 1, body["processed"])
}

func TestGetEmailStatuses(t *testing.T) {
	ts := newTestServer(t)
	id := ts.store.AddEmail("alice.manager@company.com", "Sync", "Monday?")

	w, body := ts.do(t, http.MethodGet, "/api/emails/"+strconv.Itoa(id), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Sync", body["subject"])
	assert.Nil(t, body["analysis"])

	w, _ = ts.do(t, http.MethodGet, "/api/emails/999", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = ts.do(t, http.MethodGet, "/api/emails/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListEmailsEmptyArray(t *testing.T) {
	ts := newTestServer(t)

	w, _ := ts.do(t, http.MethodGet, "/api/emails", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestCreateEmail(t *testing.T) {
	ts := newTestServer(t)

	w, body := ts.do(t, http.MethodPost, "/api/emails",
		`{"from":"charlie.client@client.com","subject":"Proposal","body":"See attached"}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.NotZero(t, body["id"])

	w, _ = ts.do(t, http.MethodPost, "/api/emails", `{"from":"charlie.client@client.com"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyzeRateLimited(t *testing.T) {
	ts := newTestServer(t)
	id := ts.store.AddEmail("alice.manager@company.com", "Sync", "Monday?")
	ts.gen.On("Generate", mock.Anything, servicetest.Op("analyze")).Return("", servicetest.RateLimited())

	w, body := ts.do(t, http.MethodPost, "/api/emails/"+strconv.Itoa(id)+"/analyze", "")

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "AI rate limit reached, please try again shortly", body["error"])
}

func TestAnalyzeReturnsEmailWithAnalysis(t *testing.T) {
	ts := newTestServer(t)
	id := ts.store.AddEmail("alice.manager@company.com", "Sync", "Monday?")
	ts.gen.On("Generate", mock.Anything, servicetest.Op("analyze")).Return(meetingJSON, nil)

	w, body := ts.do(t, http.MethodPost, "/api/emails/"+strconv.Itoa(id)+"/analyze", "")

	require.Equal(t, http.StatusOK, w.Code)
	a, ok := body["analysis"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Meeting", a["category"])
	assert.Equal(t, []any{}, a["actionItems"])
}

func TestGenerateDraftResponse(t *testing.T) {
	ts := newTestServer(t)
	id := ts.store.AddEmail("alice.manager@company.com", "Sync", "Monday?")
	ts.gen.On("Generate", mock.Anything, servicetest.Op("draft")).Return("Monday works.", nil)
	ts.gen.On("Generate", mock.Anything, servicetest.Op("summary")).Return("Meeting request.", nil)

	w, body := ts.do(t, http.MethodPost, "/api/emails/"+strconv.Itoa(id)+"/generate-draft", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Monday works.", body["responseDraft"])
	assert.Equal(t, "Monday works.", body["draft"])
}

func TestChatRequiresMessage(t *testing.T) {
	ts := newTestServer(t)
	id := ts.store.AddEmail("alice.manager@company.com", "Sync", "Monday?")

	w, _ := ts.do(t, http.MethodPost, "/api/emails/"+strconv.Itoa(id)+"/chat", `{"message":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ts.gen.On("Generate", mock.Anything, servicetest.Op("chat")).Return("On Monday.", nil)
	w, body := ts.do(t, http.MethodPost, "/api/emails/"+strconv.Itoa(id)+"/chat", `{"message":"When?"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "On Monday.", body["response"])
}

func TestSuggestionsResponse(t *testing.T) {
	ts := newTestServer(t)
	id := ts.store.AddEmail("alice.manager@company.com", "Sync", "Monday?")
	ts.gen.On("Generate", mock.Anything, servicetest.Op("suggestions")).Return("not json", nil)

	w, body := ts.do(t, http.MethodGet, "/api/emails/"+strconv.Itoa(id)+"/suggestions", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["suggestions"], 4)
}

func TestUpdatePrompts(t *testing.T) {
	ts := newTestServer(t)

	w, body := ts.do(t, http.MethodPost, "/api/prompts/update", `{"categorization":"Work or Personal","auto_reply":""}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Prompts updated and analysis cleared", body["message"])

	w, _ = ts.do(t, http.MethodPost, "/api/prompts/update", `{"tone":"formal"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ts.do(t, http.MethodPost, "/api/prompts/update", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStoreFailureIs500(t *testing.T) {
	ts := newTestServer(t)
	ts.store.Err = assert.AnError

	w, body := ts.do(t, http.MethodGet, "/api/prompts", "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to fetch prompts", body["error"])
}
