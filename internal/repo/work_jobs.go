package repo

import (
	"context"
	"database/sql"
	"errors"

	"refurbline/internal/domain"
)

const workJobColumns = `id,device_id,repair_job_id,track,status,technician_id,instructions,result_notes,completed_by_l2,started_at,completed_at,created_at`

func scanWorkJob(s scanner) (domain.WorkJob, error) {
	var w domain.WorkJob
	var tech, startedAt, completedAt sql.NullString
	err := s.Scan(&w.ID, &w.DeviceID, &w.RepairJobID, &w.Track, &w.Status, &tech, &w.Instructions, &w.ResultNotes,
		&w.CompletedByL2, &startedAt, &completedAt, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	w.TechnicianID = stringPtr(tech)
	w.StartedAt = stringPtr(startedAt)
	w.CompletedAt = stringPtr(completedAt)
	return w, nil
}

func (r Repo) InsertWorkJob(ctx context.Context, tx DBTX, w domain.WorkJob) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO work_jobs(`+workJobColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.DeviceID, w.RepairJobID, w.Track, w.Status, nullableStringPtr(w.TechnicianID), w.Instructions, w.ResultNotes,
		boolInt(w.CompletedByL2), nullableStringPtr(w.StartedAt), nullableStringPtr(w.CompletedAt), w.CreatedAt)
	return err
}

func (r Repo) UpdateWorkJob(ctx context.Context, tx DBTX, w domain.WorkJob) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE work_jobs SET status=?, technician_id=?, result_notes=?, completed_by_l2=?, started_at=?, completed_at=? WHERE id=?`,
		w.Status, nullableStringPtr(w.TechnicianID), w.ResultNotes, boolInt(w.CompletedByL2),
		nullableStringPtr(w.StartedAt), nullableStringPtr(w.CompletedAt), w.ID)
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

// StartWorkJob moves a PENDING sub-job to IN_PROGRESS for the technician.
// It returns false when the job was already taken or is no longer pending.
func (r Repo) StartWorkJob(ctx context.Context, tx DBTX, id, technicianID, now string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE work_jobs SET status=?, technician_id=?, started_at=? WHERE id=? AND status=?`,
		domain.WorkInProgress, technicianID, now, id, domain.WorkPending)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

func (r Repo) GetWorkJob(ctx context.Context, tx DBTX, id string) (domain.WorkJob, error) {
	return scanWorkJob(r.q(tx).QueryRowContext(ctx, `SELECT `+workJobColumns+` FROM work_jobs WHERE id=?`, id))
}

// ListWorkJobs returns a device's sub-jobs, newest first, optionally for one track.
func (r Repo) ListWorkJobs(ctx context.Context, tx DBTX, deviceID string, track domain.Track) ([]domain.WorkJob, error) {
	query := `SELECT ` + workJobColumns + ` FROM work_jobs WHERE device_id=?`
	args := []any{deviceID}
	if track != "" {
		query += ` AND track=?`
		args = append(args, track)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkJob
	for rows.Next() {
		w, err := scanWorkJob(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

// ListOpenWorkJobs is the specialist queue: pending or in-progress sub-jobs on a track.
func (r Repo) ListOpenWorkJobs(ctx context.Context, tx DBTX, track domain.Track) ([]domain.WorkJob, error) {
	query := `SELECT ` + workJobColumns + ` FROM work_jobs WHERE status IN (?,?)`
	args := []any{domain.WorkPending, domain.WorkInProgress}
	if track != "" {
		query += ` AND track=?`
		args = append(args, track)
	}
	query += ` ORDER BY created_at ASC, rowid ASC`
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkJob
	for rows.Next() {
		w, err := scanWorkJob(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) InsertPaintPanel(ctx context.Context, tx DBTX, p domain.PaintPanel) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO paint_panels(id,work_job_id,device_id,panel,status,updated_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.WorkJobID, p.DeviceID, p.Panel, p.Status, p.UpdatedAt)
	return err
}

func (r Repo) GetPaintPanel(ctx context.Context, tx DBTX, id string) (domain.PaintPanel, error) {
	var p domain.PaintPanel
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,work_job_id,device_id,panel,status,updated_at FROM paint_panels WHERE id=?`, id).
		Scan(&p.ID, &p.WorkJobID, &p.DeviceID, &p.Panel, &p.Status, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

// ListPaintPanels returns the panels of one paint sub-job in creation order.
func (r Repo) ListPaintPanels(ctx context.Context, tx DBTX, workJobID string) ([]domain.PaintPanel, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,work_job_id,device_id,panel,status,updated_at FROM paint_panels WHERE work_job_id=? ORDER BY rowid ASC`, workJobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PaintPanel
	for rows.Next() {
		var p domain.PaintPanel
		if err := rows.Scan(&p.ID, &p.WorkJobID, &p.DeviceID, &p.Panel, &p.Status, &p.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdatePaintPanelStatus(ctx context.Context, tx DBTX, id string, status domain.PanelStatus, updatedAt string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE paint_panels SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
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
