package repo

import (
	"context"
	"database/sql"

	"refurbline/internal/domain"
)

func (r Repo) InsertQCRecord(ctx context.Context, tx DBTX, rec domain.QCRecord) error {
	if rec.Checklist == nil {
		rec.Checklist = []domain.ChecklistItem{}
	}
	snapshot, err := encodeJSON(rec.Checklist)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO qc_records(id,device_id,repair_job_id,passed,grade,remarks,checklist_json,inspector_id,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.DeviceID, nullableStringPtr(rec.RepairJobID), boolInt(rec.Passed), gradeValue(rec.Grade), rec.Remarks, snapshot, rec.InspectorID, rec.CreatedAt)
	return err
}

func (r Repo) ListQCRecords(ctx context.Context, tx DBTX, deviceID string) ([]domain.QCRecord, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,device_id,repair_job_id,passed,grade,remarks,checklist_json,inspector_id,created_at
FROM qc_records WHERE device_id=? ORDER BY created_at ASC, rowid ASC`, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.QCRecord
	for rows.Next() {
		var rec domain.QCRecord
		var jobID, grade sql.NullString
		var snapshot string
		if err := rows.Scan(&rec.ID, &rec.DeviceID, &jobID, &rec.Passed, &grade, &rec.Remarks, &snapshot, &rec.InspectorID, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.RepairJobID = stringPtr(jobID)
		if grade.Valid {
			g := domain.Grade(grade.String)
			rec.Grade = &g
		}
		if err := decodeJSON(snapshot, &rec.Checklist); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
