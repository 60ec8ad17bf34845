// Package clickhouse is an optional fan-out archive sink for telemetry
// events: independent of the Monitor's retention window, it gives an
// operator a long-horizon, queryable history beyond what monitorstore
// keeps. Grounded on the teacher's internal/history/clickhouse sink,
// generalized from its fixed process-event row to the wire event
// shape.
package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/chiefmon/internal/wire"
)

// Sink writes telemetry events to a ClickHouse table, one row per
// event, fire-and-forget relative to the Monitor's own durability
// guarantees (a failed archive write never blocks ingestion).
type Sink struct {
	conn  driver.Conn
	table string
}

func New(addr, table string) (*Sink, error) {
	if table == "" {
		table = "chief_events"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: "",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	return &Sink{conn: conn, table: table}, nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Send archives one event. Errors are the caller's to log and ignore;
// ClickHouse is a secondary sink, not the system of record.
func (s *Sink) Send(ctx context.Context, ev wire.TelemetryEvent) error {
	metaJSON, err := json.Marshal(ev.Metadata)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`INSERT INTO %s
		(source_type, event_type, level, message, event_at, job_name, script_path, run_id, success, return_code, duration_ms, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)

	err = s.conn.Exec(ctx, query,
		string(ev.SourceType), ev.EventType, string(ev.Level), ev.Message, ev.EventAt,
		ev.JobName, ev.ScriptPath, ev.RunID, ev.Success, ev.ReturnCode, ev.DurationMs, string(metaJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}
