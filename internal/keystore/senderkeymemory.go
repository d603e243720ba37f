package keystore

import (
	"context"
	"fmt"
)

// SenderKeyRecipients returns the set of wire JIDs that already hold
// this account's current sender-key distribution for groupJID, keyed
// by wire JID string.
func (s *SQLiteStore) SenderKeyRecipients(ctx context.Context, groupJID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT wire_jid FROM sender_key_memory WHERE group_jid = ?`, groupJID)
	if err != nil {
		return nil, fmt.Errorf("query sender key memory for %s: %w", groupJID, err)
	}
	defer rows.Close()

	memo := map[string]bool{}
	for rows.Next() {
		var wireJID string
		if err := rows.Scan(&wireJID); err != nil {
			return nil, fmt.Errorf("scan sender key memory row for %s: %w", groupJID, err)
		}
		memo[wireJID] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sender key memory for %s: %w", groupJID, err)
	}
	return memo, nil
}

// MarkSenderKeySent records wireJIDs as now holding groupJID's current
// sender-key distribution from this account.
func (s *SQLiteStore) MarkSenderKeySent(ctx context.Context, groupJID string, wireJIDs []string) error {
	if len(wireJIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sender key memory tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, wireJID := range wireJIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sender_key_memory (group_jid, wire_jid, created_at) VALUES (?, ?, strftime('%s','now'))
			 ON CONFLICT(group_jid, wire_jid) DO NOTHING`,
			groupJID, wireJID,
		); err != nil {
			return fmt.Errorf("mark sender key sent for %s/%s: %w", groupJID, wireJID, err)
		}
	}
	return tx.Commit()
}
