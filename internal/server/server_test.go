package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notexe/remindme/internal/logging"
	"github.com/notexe/remindme/internal/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeVoice struct {
	phone      string
	id         int64
	transcript string
	err        error
}

func (f *fakeVoice) HandleVoiceResponse(_ context.Context, phone string, id int64, transcript string) (string, error) {
	f.phone, f.id, f.transcript = phone, id, transcript
	if f.err != nil {
		return "Sorry, something went wrong.", f.err
	}
	return "Great, done.", nil
}

func newTestServer(voice VoiceHandler, reg *prometheus.Registry) *Server {
	cfg := Config{Voice: voice, Debug: true, Logger: logging.Discard()}
	if reg != nil {
		cfg.Gatherer = reg
	}
	return New(cfg)
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(nil, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.MustNew(reg).ReminderCreated("daily")

	rec := httptest.NewRecorder()
	newTestServer(nil, reg).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `remindme_reminders_created_total{recurrence="daily"} 1`)
}

func TestVoiceResponse(t *testing.T) {
	voice := &fakeVoice{}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/voice/response",
		strings.NewReader(`{"phone":" +15550001111 ","reminder_id":7,"transcript":"yes done"}`))
	req.Header.Set("Content-Type", "application/json")
	newTestServer(voice, nil).Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "+15550001111", voice.phone)
	assert.Equal(t, int64(7), voice.id)
	assert.Equal(t, "yes done", voice.transcript)
	assert.Contains(t, rec.Body.String(), "Great, done.")
}

func TestVoiceResponseValidation(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/voice/response", strings.NewReader(`{"transcript":"yes"}`))
	req.Header.Set("Content-Type", "application/json")
	newTestServer(&fakeVoice{}, nil).Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVoiceResponseFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/voice/response",
		strings.NewReader(`{"phone":"+1555","reminder_id":1,"transcript":"later"}`))
	req.Header.Set("Content-Type", "application/json")
	newTestServer(&fakeVoice{err: errors.New("db down")}, nil).Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")
}

func TestUnmountedRoutes(t *testing.T) {
	h := newTestServer(nil, nil).Handler()
	for _, path := range []string{"/metrics", "/voice/response"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}
