package eventsink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

// PostgresWriter is the production Writer: a single batched multi-row
// insert into counter_events per flush, wrapped in a transaction so a
// partial batch failure never leaves half the batch committed.
type PostgresWriter struct {
	db *sql.DB
}

// NewPostgresWriter wraps an already-opened *sql.DB (opened with the
// "postgres" driver registered by the lib/pq import above).
func NewPostgresWriter(db *sql.DB) *PostgresWriter {
	return &PostgresWriter{db: db}
}

// WriteBatch inserts every event in one statement inside one transaction
// so a partial batch failure never leaves half the batch committed.
func (w *PostgresWriter) WriteBatch(ctx context.Context, events []CountedEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("eventsink: begin tx: %w", err)
	}
	defer tx.Rollback()

	var sb strings.Builder
	sb.WriteString(`INSERT INTO counter_events (occurred_at, channel_id, zone_id, event_type, track_id, person_id, frame_number) VALUES `)

	args := make([]interface{}, 0, len(events)*7)
	for i, evt := range events {
		if i > 0 {
			sb.WriteByte(',')
		}
		base := i * 7
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d)", base+1, base+2, base+3, base+4, base+5, base+6, base+7)
		args = append(args, evt.OccurredAt, evt.ChannelID, evt.ZoneID, evt.EventType, evt.TrackID, evt.PersonID, evt.FrameNumber)
	}

	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("eventsink: insert batch: %w", err)
	}

	return tx.Commit()
}
