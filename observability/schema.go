package observability

import (
	"context"
	"database/sql"

	"github.com/hazyhaar/figbridge/dbopen"
)

// Schema is the DDL for the event journal. The journal is append-only and
// never read back to rebuild queue state.
const Schema = `
CREATE TABLE IF NOT EXISTS bridge_events (
    event_id    TEXT PRIMARY KEY,
    created_at  INTEGER NOT NULL,          -- unix milliseconds
    entity_type TEXT NOT NULL,             -- 'job' or 'read'
    entity_id   TEXT NOT NULL,
    action      TEXT NOT NULL,
    from_state  TEXT NOT NULL DEFAULT '',
    op_count    INTEGER NOT NULL DEFAULT 0,
    details     TEXT NOT NULL DEFAULT '{}' -- JSON
);
CREATE INDEX IF NOT EXISTS idx_bridge_events_entity
    ON bridge_events(entity_id, created_at);
CREATE INDEX IF NOT EXISTS idx_bridge_events_time
    ON bridge_events(created_at DESC);
`

// Init applies Schema to db.
func Init(ctx context.Context, db *sql.DB) error {
	_, err := dbopen.Exec(ctx, db, Schema)
	return err
}
