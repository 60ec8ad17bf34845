// Package debugsrv exposes the Orchestrator's local read-only
// introspection endpoints: a liveness probe and a snapshot of each
// job's runtime state. It is deliberately not a dashboard (spec.md §1
// Non-goals) — just enough surface for an operator with curl to see
// what the daemon currently believes. Built on echo, matching the
// lightweight single-file router shape favored elsewhere in the
// example pack for small HTTP surfaces.
package debugsrv

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/loykin/chiefmon/internal/scheduler"
)

// Server serves the debug endpoints over the Daemon's current state.
type Server struct {
	daemon *scheduler.Daemon
	echo   *echo.Echo
}

func New(daemon *scheduler.Daemon) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	s := &Server{daemon: daemon, echo: e}

	e.GET("/healthz", s.handleHealthz)
	e.GET("/jobs", s.handleJobs)

	return s
}

func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleJobs(c echo.Context) error {
	return c.JSON(http.StatusOK, s.daemon.Snapshot())
}
