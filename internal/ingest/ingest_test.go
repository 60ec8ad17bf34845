package ingest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/loykin/chiefmon/internal/checkengine"
	"github.com/loykin/chiefmon/internal/ingest"
	"github.com/loykin/chiefmon/internal/monitorstore"
	"github.com/loykin/chiefmon/internal/wire"
)

type recordingLogger struct {
	mu     sync.Mutex
	errors int
}

func (l *recordingLogger) Error(jobName, eventType string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors++
}

func (l *recordingLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errors
}

type fakeArchiver struct {
	mu      sync.Mutex
	sent    []wire.TelemetryEvent
	failAll bool
}

func (a *fakeArchiver) Send(_ context.Context, ev wire.TelemetryEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failAll {
		return context.DeadlineExceeded
	}
	a.sent = append(a.sent, ev)
	return nil
}

func (a *fakeArchiver) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sent)
}

func newTestRouter(apiKey string, log ingest.Logger) (*ingest.Router, func()) {
	store, err := monitorstore.Open(context.Background(), ":memory:")
	Expect(err).NotTo(HaveOccurred())
	engine := checkengine.New(store)
	r := ingest.New(store, engine, apiKey, log)
	return r, func() { _ = store.Close() }
}

func postJSON(handler http.Handler, path string, body any, apiKey string) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func sampleEvent(jobName string) wire.TelemetryEvent {
	return wire.TelemetryEvent{
		SourceType: wire.SourceChief,
		EventType:  wire.EventJobStarted,
		Level:      wire.LevelInfo,
		Message:    "job started",
		JobName:    jobName,
	}
}

var _ = Describe("Router", func() {
	var log *recordingLogger

	BeforeEach(func() {
		log = &recordingLogger{}
	})

	It("rejects a request missing the shared secret", func() {
		r, cleanup := newTestRouter("secret", log)
		defer cleanup()

		rec := postJSON(r.Handler(), "/v1/events", sampleEvent("backup"), "")
		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
	})

	It("rejects a request with the wrong shared secret", func() {
		r, cleanup := newTestRouter("secret", log)
		defer cleanup()

		rec := postJSON(r.Handler(), "/v1/events", sampleEvent("backup"), "wrong")
		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
	})

	It("accepts a well-formed event with the correct shared secret", func() {
		r, cleanup := newTestRouter("secret", log)
		defer cleanup()

		rec := postJSON(r.Handler(), "/v1/events", sampleEvent("backup"), "secret")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var resp struct {
			OK       bool `json:"ok"`
			Accepted int  `json:"accepted"`
		}
		Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Accepted).To(Equal(1))
	})

	It("skips auth entirely when no api key is configured", func() {
		r, cleanup := newTestRouter("", log)
		defer cleanup()

		rec := postJSON(r.Handler(), "/v1/events", sampleEvent("backup"), "")
		Expect(rec.Code).To(Equal(http.StatusOK))
	})

	It("rejects an event missing required fields and counts the drop", func() {
		r, cleanup := newTestRouter("", log)
		defer cleanup()

		malformed := sampleEvent("backup")
		malformed.Message = ""
		rec := postJSON(r.Handler(), "/v1/events", malformed, "")
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("counts per-item acceptance and rejection within a batch", func() {
		r, cleanup := newTestRouter("", log)
		defer cleanup()

		good := sampleEvent("backup")
		bad := sampleEvent("backup")
		bad.Level = "NOT_A_LEVEL"

		rec := postJSON(r.Handler(), "/v1/events/batch", []wire.TelemetryEvent{good, bad}, "")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var resp struct {
			Accepted int `json:"accepted"`
			Rejected int `json:"rejected"`
		}
		Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Accepted).To(Equal(1))
		Expect(resp.Rejected).To(Equal(1))
	})

	It("fans an accepted event out to the archiver without blocking acceptance", func() {
		r, cleanup := newTestRouter("", log)
		defer cleanup()

		archiver := &fakeArchiver{}
		r.SetArchiver(archiver)

		rec := postJSON(r.Handler(), "/v1/events", sampleEvent("backup"), "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(archiver.count()).To(Equal(1))
	})

	It("still returns success when the archiver fails, logging instead of failing the request", func() {
		r, cleanup := newTestRouter("", log)
		defer cleanup()

		archiver := &fakeArchiver{failAll: true}
		r.SetArchiver(archiver)

		rec := postJSON(r.Handler(), "/v1/events", sampleEvent("backup"), "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(log.count()).To(Equal(1))
	})

	It("normalizes a loosely-cased, loosely-typed payload instead of rejecting it outright", func() {
		r, cleanup := newTestRouter("", log)
		defer cleanup()

		raw := map[string]any{
			"sourceType": "CHIEF",
			"eventType":  "job.started",
			"level":      "info",
			"message":    "job started",
			"jobName":    "backup",
			"returnCode": 0.0,
		}
		rec := postJSON(r.Handler(), "/v1/events", raw, "")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var resp struct {
			Accepted int `json:"accepted"`
		}
		Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Accepted).To(Equal(1))
	})

	It("responds ok on the health endpoint without auth", func() {
		r, cleanup := newTestRouter("secret", log)
		defer cleanup()

		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()
		r.Handler().ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusOK))
	})
})
