package repo

import (
	"context"
	"database/sql"
	"errors"

	"refurbline/internal/domain"
)

const repairJobColumns = `id,device_id,inspection_engineer_id,l2_engineer_id,reported_issues,spares_required,spares_issued,
spares_outstanding,recommended_paint_panels,notes,status,tat_due_at,started_at,closed_at,created_at,updated_at`

func scanRepairJob(s scanner) (domain.RepairJob, error) {
	var j domain.RepairJob
	var l2, startedAt, closedAt sql.NullString
	var issues, required, issued, panels string
	err := s.Scan(&j.ID, &j.DeviceID, &j.InspectionEngineerID, &l2, &issues, &required, &issued,
		&j.SparesOutstanding, &panels, &j.Notes, &j.Status, &j.TATDueAt, &startedAt, &closedAt, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return j, ErrNotFound
	}
	if err != nil {
		return j, err
	}
	j.L2EngineerID = stringPtr(l2)
	j.StartedAt = stringPtr(startedAt)
	j.ClosedAt = stringPtr(closedAt)
	if err := decodeJSON(issues, &j.ReportedIssues); err != nil {
		return j, err
	}
	if err := decodeJSON(required, &j.SparesRequired); err != nil {
		return j, err
	}
	if err := decodeJSON(issued, &j.SparesIssued); err != nil {
		return j, err
	}
	if err := decodeJSON(panels, &j.RecommendedPaintPanels); err != nil {
		return j, err
	}
	return j, nil
}

type repairJobJSON struct {
	issues, required, issued, panels string
}

func encodeRepairJob(j domain.RepairJob) (repairJobJSON, error) {
	var out repairJobJSON
	var err error
	if j.ReportedIssues == nil {
		j.ReportedIssues = []domain.ReportedIssue{}
	}
	if j.SparesRequired == nil {
		j.SparesRequired = []domain.PartLine{}
	}
	if j.SparesIssued == nil {
		j.SparesIssued = []domain.PartLine{}
	}
	if j.RecommendedPaintPanels == nil {
		j.RecommendedPaintPanels = []string{}
	}
	if out.issues, err = encodeJSON(j.ReportedIssues); err != nil {
		return out, err
	}
	if out.required, err = encodeJSON(j.SparesRequired); err != nil {
		return out, err
	}
	if out.issued, err = encodeJSON(j.SparesIssued); err != nil {
		return out, err
	}
	if out.panels, err = encodeJSON(j.RecommendedPaintPanels); err != nil {
		return out, err
	}
	return out, nil
}

func (r Repo) InsertRepairJob(ctx context.Context, tx DBTX, j domain.RepairJob) error {
	enc, err := encodeRepairJob(j)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO repair_jobs(`+repairJobColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.DeviceID, j.InspectionEngineerID, nullableStringPtr(j.L2EngineerID), enc.issues, enc.required, enc.issued,
		boolInt(j.SparesOutstanding), enc.panels, j.Notes, j.Status, j.TATDueAt,
		nullableStringPtr(j.StartedAt), nullableStringPtr(j.ClosedAt), j.CreatedAt, j.UpdatedAt)
	return err
}

func (r Repo) UpdateRepairJob(ctx context.Context, tx DBTX, j domain.RepairJob) error {
	enc, err := encodeRepairJob(j)
	if err != nil {
		return err
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE repair_jobs SET l2_engineer_id=?, reported_issues=?, spares_required=?, spares_issued=?,
spares_outstanding=?, recommended_paint_panels=?, notes=?, status=?, tat_due_at=?, started_at=?, closed_at=?, updated_at=? WHERE id=?`,
		nullableStringPtr(j.L2EngineerID), enc.issues, enc.required, enc.issued,
		boolInt(j.SparesOutstanding), enc.panels, j.Notes, j.Status, j.TATDueAt,
		nullableStringPtr(j.StartedAt), nullableStringPtr(j.ClosedAt), j.UpdatedAt, j.ID)
	if err != nil {
		return err
	}
	if ok, err := affectedOne(res); err != nil {
		return err
	} else if !ok {
		return ErrNotFound
	}
	return nil
}

// ClaimRepairJob sets the coordinator only if nobody holds the job yet.
// It returns false when another claimant got there first.
func (r Repo) ClaimRepairJob(ctx context.Context, tx DBTX, jobID, l2EngineerID, now string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE repair_jobs SET l2_engineer_id=?, status=?, started_at=?, updated_at=?
WHERE id=? AND l2_engineer_id IS NULL AND status<>?`,
		l2EngineerID, domain.JobUnderRepair, now, now, jobID, domain.JobRepairClosed)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

func (r Repo) GetRepairJob(ctx context.Context, tx DBTX, id string) (domain.RepairJob, error) {
	return scanRepairJob(r.q(tx).QueryRowContext(ctx, `SELECT `+repairJobColumns+` FROM repair_jobs WHERE id=?`, id))
}

// ActiveRepairJob returns the device's non-closed job.
func (r Repo) ActiveRepairJob(ctx context.Context, tx DBTX, deviceID string) (domain.RepairJob, error) {
	return scanRepairJob(r.q(tx).QueryRowContext(ctx, `SELECT `+repairJobColumns+` FROM repair_jobs WHERE device_id=? AND status<>? LIMIT 1`,
		deviceID, domain.JobRepairClosed))
}

// LatestRepairJob returns the device's most recently opened job, closed or not.
func (r Repo) LatestRepairJob(ctx context.Context, tx DBTX, deviceID string) (domain.RepairJob, error) {
	return scanRepairJob(r.q(tx).QueryRowContext(ctx, `SELECT `+repairJobColumns+` FROM repair_jobs WHERE device_id=? ORDER BY created_at DESC, rowid DESC LIMIT 1`, deviceID))
}

func (r Repo) ListRepairJobs(ctx context.Context, tx DBTX, deviceID string) ([]domain.RepairJob, error) {
	return r.listRepairJobs(ctx, tx, `SELECT `+repairJobColumns+` FROM repair_jobs WHERE device_id=? ORDER BY created_at ASC, rowid ASC`, deviceID)
}

// ListOverdueRepairJobs returns open jobs whose TAT deadline is before now.
func (r Repo) ListOverdueRepairJobs(ctx context.Context, tx DBTX, now string) ([]domain.RepairJob, error) {
	return r.listRepairJobs(ctx, tx, `SELECT `+repairJobColumns+` FROM repair_jobs WHERE status<>? AND tat_due_at<? ORDER BY tat_due_at ASC`,
		domain.JobRepairClosed, now)
}

func (r Repo) listRepairJobs(ctx context.Context, tx DBTX, query string, args ...any) ([]domain.RepairJob, error) {
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RepairJob
	for rows.Next() {
		j, err := scanRepairJob(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}
