package keystore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PutGroupMetadata caches the serialized metadata payload for groupJID.
func (s *SQLiteStore) PutGroupMetadata(ctx context.Context, groupJID string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_metadata (group_jid, payload, fetched_at) VALUES (?, ?, strftime('%s','now'))
		 ON CONFLICT(group_jid) DO UPDATE SET payload = excluded.payload, fetched_at = excluded.fetched_at`,
		groupJID, payload,
	)
	if err != nil {
		return fmt.Errorf("put group metadata for %s: %w", groupJID, err)
	}
	return nil
}

// GroupMetadata returns the cached payload for groupJID and how long ago
// it was fetched, or ok=false if nothing is cached.
func (s *SQLiteStore) GroupMetadata(ctx context.Context, groupJID string) (payload []byte, age time.Duration, ok bool, err error) {
	var fetchedAt int64
	row := s.db.QueryRowContext(ctx, `SELECT payload, fetched_at FROM group_metadata WHERE group_jid = ?`, groupJID)
	switch err := row.Scan(&payload, &fetchedAt); {
	case err == sql.ErrNoRows:
		return nil, 0, false, nil
	case err != nil:
		return nil, 0, false, fmt.Errorf("get group metadata for %s: %w", groupJID, err)
	}
	return payload, time.Since(time.Unix(fetchedAt, 0)), true, nil
}
