// Package ingest is the Monitor's HTTP edge: it accepts telemetry
// events posted by the Orchestrator's Emitter, authenticates them,
// normalizes and validates the payload, and hands accepted events to
// the Check Engine after persisting them. Grounded on the teacher's
// internal/server/router.go gin-construction shape and
// internal/auth/middleware.go's GinAuth(), simplified to the single
// shared-secret header spec.md §4.6 names.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/chiefmon/internal/checkengine"
	"github.com/loykin/chiefmon/internal/metrics"
	"github.com/loykin/chiefmon/internal/monitorstore"
	"github.com/loykin/chiefmon/internal/wire"
)

const maxBatchSize = 500

// Router wires the events endpoints over a store and check engine.
type Router struct {
	store    monitorstore.Backend
	engine   *checkengine.Engine
	apiKey   string
	log      Logger
	archiver Archiver
}

// Logger is the narrow slice of *zerolog.Logger ingest needs, kept as
// an interface so tests can swap in a no-op.
type Logger interface {
	Error(jobName, eventType string, err error)
}

// Archiver fans an accepted event out to a long-horizon store, kept
// independent of the Monitor's own retention window. A nil Archiver
// disables archiving entirely.
type Archiver interface {
	Send(ctx context.Context, ev wire.TelemetryEvent) error
}

func New(store monitorstore.Backend, engine *checkengine.Engine, apiKey string, log Logger) *Router {
	return &Router{store: store, engine: engine, apiKey: apiKey, log: log}
}

// SetArchiver attaches an optional archive fan-out sink. Called once
// after New, before Handler starts serving.
func (r *Router) SetArchiver(a Archiver) { r.archiver = a }

// Handler returns the http.Handler serving /v1/events and
// /v1/events/batch under the shared-secret auth middleware.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())

	group := g.Group("/v1")
	group.Use(r.ginAuth())
	group.POST("/events", r.handleEvent)
	group.POST("/events/batch", r.handleBatch)

	g.GET("/healthz", func(c *gin.Context) { writeJSON(c, http.StatusOK, okResp{OK: true}) })

	return g
}

func (r *Router) ginAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if r.apiKey == "" {
			c.Next()
			return
		}
		key := c.GetHeader("x-api-key")
		if key == "" || key != r.apiKey {
			metrics.IncEventsRejected("unauthorized")
			writeJSON(c, http.StatusUnauthorized, errorResp{Error: "invalid or missing x-api-key"})
			c.Abort()
			return
		}
		c.Next()
	}
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK       bool `json:"ok"`
	Accepted int  `json:"accepted,omitempty"`
	Rejected int  `json:"rejected,omitempty"`
}

func (r *Router) handleEvent(c *gin.Context) {
	var raw wire.RawEvent
	if err := c.ShouldBindJSON(&raw); err != nil {
		metrics.IncEventsRejected("malformed")
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := r.accept(c, raw); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true, Accepted: 1})
}

func (r *Router) handleBatch(c *gin.Context) {
	var raws []wire.RawEvent
	if err := c.ShouldBindJSON(&raws); err != nil {
		metrics.IncEventsRejected("malformed")
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if len(raws) > maxBatchSize {
		metrics.IncEventsRejected("batch_too_large")
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "batch exceeds maximum size"})
		return
	}

	accepted, rejected := 0, 0
	for _, raw := range raws {
		if err := r.accept(c, raw); err != nil {
			rejected++
			continue
		}
		accepted++
	}
	writeJSON(c, http.StatusOK, okResp{OK: true, Accepted: accepted, Rejected: rejected})
}

// accept normalizes, validates, persists, and dispatches one event to
// the Check Engine. Normalization runs wire.Normalize's case-folding,
// numeric-truncation, and metadata-coercion contract (spec.md §4.6)
// before the strict struct validation. A Check Engine error is logged
// and skipped per spec.md §7 rather than failing the HTTP request,
// since the event is already durably stored.
func (r *Router) accept(c *gin.Context, raw wire.RawEvent) error {
	receivedAt := time.Now().UTC()
	ev, ok := wire.Normalize(raw, receivedAt)
	if !ok {
		metrics.IncEventsRejected("invalid")
		return fmt.Errorf("event failed normalization or validation")
	}

	metrics.IncEventsIngested(string(ev.SourceType))
	if err := r.store.InsertEvent(c.Request.Context(), ev, receivedAt); err != nil {
		metrics.IncEventsRejected("store_error")
		return err
	}

	if err := r.engine.Apply(c.Request.Context(), ev); err != nil && r.log != nil {
		r.log.Error(ev.JobName, ev.EventType, err)
	}

	if r.archiver != nil {
		if err := r.archiver.Send(c.Request.Context(), ev); err != nil && r.log != nil {
			r.log.Error(ev.JobName, ev.EventType, err)
		}
	}
	return nil
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}
