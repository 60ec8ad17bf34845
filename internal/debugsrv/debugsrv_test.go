package debugsrv_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/chiefmon/internal/debugsrv"
	"github.com/loykin/chiefmon/internal/scheduler"
)

func newTestServer() *debugsrv.Server {
	runtime := &scheduler.JobRuntime{
		Spec: scheduler.JobSpec{
			Name:    "backup",
			Enabled: true,
			Overlap: scheduler.OverlapSkip,
		},
	}
	daemon := scheduler.NewDaemon([]*scheduler.JobRuntime{runtime}, nil, time.Second, "", "")
	return debugsrv.New(daemon)
}

func TestHealthzReportsOK(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body["ok"])
}

func TestJobsReturnsDaemonSnapshot(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var snap []scheduler.JobSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Len(t, snap, 1)
	assert.Equal(t, "backup", snap[0].Name)
	assert.Equal(t, scheduler.OverlapSkip, snap[0].Overlap)
}
