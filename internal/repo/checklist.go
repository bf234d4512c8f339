package repo

import (
	"context"

	"refurbline/internal/domain"
)

const checklistColumns = `id,device_id,pass,item_index,text,status,notes,checked_by,stage,checked_at`

func (r Repo) InsertChecklistItem(ctx context.Context, tx DBTX, it domain.ChecklistItem) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO checklist_items(device_id,pass,item_index,text,status,notes,checked_by,stage,checked_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		it.DeviceID, it.Pass, it.Index, it.Text, it.Status, it.Notes, it.CheckedBy, it.Stage, it.CheckedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LatestChecklistPass returns the highest inspection pass number, 0 when the
// device was never inspected.
func (r Repo) LatestChecklistPass(ctx context.Context, tx DBTX, deviceID string) (int, error) {
	var pass int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COALESCE(MAX(pass),0) FROM checklist_items WHERE device_id=?`, deviceID).Scan(&pass)
	return pass, err
}

// CurrentChecklist returns the latest recorded state of every item in the
// device's most recent pass, ordered by catalog index. QC re-checks supersede
// the inspection row for the same index.
func (r Repo) CurrentChecklist(ctx context.Context, tx DBTX, deviceID string) ([]domain.ChecklistItem, error) {
	return r.listChecklist(ctx, tx, `SELECT `+checklistColumns+` FROM checklist_items WHERE id IN (
  SELECT MAX(id) FROM checklist_items
  WHERE device_id=? AND pass=(SELECT COALESCE(MAX(pass),0) FROM checklist_items WHERE device_id=?)
  GROUP BY item_index
) ORDER BY item_index ASC`, deviceID, deviceID)
}

// ChecklistHistory returns every recorded row for the device in insertion order.
func (r Repo) ChecklistHistory(ctx context.Context, tx DBTX, deviceID string) ([]domain.ChecklistItem, error) {
	return r.listChecklist(ctx, tx, `SELECT `+checklistColumns+` FROM checklist_items WHERE device_id=? ORDER BY id ASC`, deviceID)
}

func (r Repo) listChecklist(ctx context.Context, tx DBTX, query string, args ...any) ([]domain.ChecklistItem, error) {
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChecklistItem
	for rows.Next() {
		var it domain.ChecklistItem
		if err := rows.Scan(&it.ID, &it.DeviceID, &it.Pass, &it.Index, &it.Text, &it.Status, &it.Notes, &it.CheckedBy, &it.Stage, &it.CheckedAt); err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}
