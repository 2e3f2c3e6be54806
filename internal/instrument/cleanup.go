package instrument

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"rocket-nested/internal/store"
)

// CleanupOldEvents deletes events older than retentionDays from the _events table.
func CleanupOldEvents(ctx context.Context, db *sql.DB, dialect store.Dialect, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(time.RFC3339Nano)
	pb := dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("DELETE FROM _events WHERE created_at < %s", pb.Add(cutoff))
	n, err := store.Exec(ctx, db, sqlStr, pb.Params()...)
	if err != nil {
		log.Printf("ERROR: event cleanup: %v", err)
		return
	}
	if n > 0 {
		log.Printf("Event cleanup: deleted %d old events", n)
	}
}
