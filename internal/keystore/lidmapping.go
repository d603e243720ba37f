package keystore

import (
	"context"
	"database/sql"
	"fmt"
)

// LIDPair is one PN↔LID correspondence, as returned by a USync query.
type LIDPair struct {
	PN  string
	LID string
}

// StoreLIDPNMappings upserts pairs into the lid_mapping table. Writes are
// idempotent: re-storing an identical pair is a no-op change-wise.
func (s *SQLiteStore) StoreLIDPNMappings(ctx context.Context, pairs []LIDPair) error {
	if len(pairs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin lid mapping tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range pairs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO lid_mapping (pn, lid, updated_at) VALUES (?, ?, strftime('%s','now'))
			 ON CONFLICT(pn) DO UPDATE SET lid = excluded.lid, updated_at = excluded.updated_at`,
			p.PN, p.LID,
		); err != nil {
			return fmt.Errorf("store lid mapping %s->%s: %w", p.PN, p.LID, err)
		}
	}
	return tx.Commit()
}

// GetLIDForPN looks up the LID mapped to pn, if any.
func (s *SQLiteStore) GetLIDForPN(ctx context.Context, pn string) (string, bool, error) {
	var lid string
	err := s.db.QueryRowContext(ctx, `SELECT lid FROM lid_mapping WHERE pn = ?`, pn).Scan(&lid)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get lid for pn %s: %w", pn, err)
	}
	return lid, true, nil
}

// GetPNForLID looks up the PN mapped to lid, if any.
func (s *SQLiteStore) GetPNForLID(ctx context.Context, lid string) (string, bool, error) {
	var pn string
	err := s.db.QueryRowContext(ctx, `SELECT pn FROM lid_mapping WHERE lid = ?`, lid).Scan(&pn)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get pn for lid %s: %w", lid, err)
	}
	return pn, true, nil
}

// GetLIDsForPNs batches GetLIDForPN across multiple phone numbers.
func (s *SQLiteStore) GetLIDsForPNs(ctx context.Context, pns []string) (map[string]string, error) {
	out := make(map[string]string, len(pns))
	if len(pns) == 0 {
		return out, nil
	}
	placeholders := make([]byte, 0, len(pns)*2)
	args := make([]any, 0, len(pns))
	for i, pn := range pns {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, pn)
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT pn, lid FROM lid_mapping WHERE pn IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("batch get lids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var pn, lid string
		if err := rows.Scan(&pn, &lid); err != nil {
			return nil, fmt.Errorf("scan lid mapping row: %w", err)
		}
		out[pn] = lid
	}
	return out, rows.Err()
}
