package keystore

import (
	"context"
	"fmt"
)

// ReplaceDeviceList overwrites the persisted device set for userJID with
// deviceJIDs, the way a fresh USync response supersedes a stale one.
func (s *SQLiteStore) ReplaceDeviceList(ctx context.Context, userJID string, deviceJIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin device list tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM device_list WHERE user_jid = ?`, userJID); err != nil {
		return fmt.Errorf("clear device list for %s: %w", userJID, err)
	}
	for _, deviceJID := range deviceJIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO device_list (user_jid, device_jid, fetched_at) VALUES (?, ?, strftime('%s','now'))`,
			userJID, deviceJID,
		); err != nil {
			return fmt.Errorf("insert device %s for %s: %w", deviceJID, userJID, err)
		}
	}
	return tx.Commit()
}

// DeviceList returns the persisted device set for userJID.
func (s *SQLiteStore) DeviceList(ctx context.Context, userJID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT device_jid FROM device_list WHERE user_jid = ?`, userJID)
	if err != nil {
		return nil, fmt.Errorf("query device list for %s: %w", userJID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var deviceJID string
		if err := rows.Scan(&deviceJID); err != nil {
			return nil, fmt.Errorf("scan device row for %s: %w", userJID, err)
		}
		out = append(out, deviceJID)
	}
	return out, rows.Err()
}
