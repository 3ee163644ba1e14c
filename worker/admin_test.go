package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-mailer/pkg/observability"
	"order-mailer/pkg/trigger"
)

func newAdmin(queueSize int) (http.Handler, *trigger.Queue) {
	q := trigger.NewQueue(queueSize)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return adminHandler(observability.NewMetrics(), q, logger), q
}

func TestReconcileQueuesTrigger(t *testing.T) {
	h, q := newAdmin(1)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reconcile", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"queued": true}`, rec.Body.String())
	assert.Equal(t, 1, q.Len())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reconcile", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"queued": false}`, rec.Body.String())
}

func TestReconcileRejectsGet(t *testing.T) {
	h, q := newAdmin(1)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reconcile", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, 0, q.Len())
}

func TestHealthAndMetrics(t *testing.T) {
	h, _ := newAdmin(1)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "reconcile_missing_documents_total")
}

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--test", "--env-file", "prod.env"}))

	test, err := cmd.Flags().GetBool("test")
	require.NoError(t, err)
	assert.True(t, test)

	envFile, err := cmd.Flags().GetString("env-file")
	require.NoError(t, err)
	assert.Equal(t, "prod.env", envFile)

	sub, _, err := cmd.Find([]string{"init-schema"})
	require.NoError(t, err)
	assert.Equal(t, "init-schema", sub.Name())
}
