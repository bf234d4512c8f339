package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"refurbline/internal/domain"
)

const deviceColumns = `id,barcode,category,brand,model,status,ownership,grade,batch_id,rack_id,location,
repair_required,repair_completed,display_required,display_completed,battery_required,battery_completed,
l3_required,l3_completed,paint_required,paint_completed,created_at,updated_at`

func scanDevice(s scanner) (domain.Device, error) {
	var d domain.Device
	var grade, batchID, rackID, location sql.NullString
	err := s.Scan(&d.ID, &d.Barcode, &d.Category, &d.Brand, &d.Model, &d.Status, &d.Ownership, &grade, &batchID, &rackID, &location,
		&d.RepairRequired, &d.RepairCompleted,
		&d.Tracks.Display.Required, &d.Tracks.Display.Completed,
		&d.Tracks.Battery.Required, &d.Tracks.Battery.Completed,
		&d.Tracks.L3.Required, &d.Tracks.L3.Completed,
		&d.Tracks.Paint.Required, &d.Tracks.Paint.Completed,
		&d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	if grade.Valid {
		g := domain.Grade(grade.String)
		d.Grade = &g
	}
	d.BatchID = stringPtr(batchID)
	d.RackID = stringPtr(rackID)
	d.Location = stringPtr(location)
	return d, nil
}

func gradeValue(g *domain.Grade) any {
	if g == nil {
		return nil
	}
	return string(*g)
}

func (r Repo) InsertDevice(ctx context.Context, tx DBTX, d domain.Device) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO devices(`+deviceColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.Barcode, d.Category, d.Brand, d.Model, d.Status, d.Ownership, gradeValue(d.Grade),
		nullableStringPtr(d.BatchID), nullableStringPtr(d.RackID), nullableStringPtr(d.Location),
		boolInt(d.RepairRequired), boolInt(d.RepairCompleted),
		boolInt(d.Tracks.Display.Required), boolInt(d.Tracks.Display.Completed),
		boolInt(d.Tracks.Battery.Required), boolInt(d.Tracks.Battery.Completed),
		boolInt(d.Tracks.L3.Required), boolInt(d.Tracks.L3.Completed),
		boolInt(d.Tracks.Paint.Required), boolInt(d.Tracks.Paint.Completed),
		d.CreatedAt, d.UpdatedAt)
	return err
}

// UpdateDevice writes every workflow-owned column. Rack and location are
// owned by placement and written with SetDevicePlacement.
func (r Repo) UpdateDevice(ctx context.Context, tx DBTX, d domain.Device) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE devices SET status=?, grade=?, batch_id=?, brand=?, model=?,
repair_required=?, repair_completed=?, display_required=?, display_completed=?, battery_required=?, battery_completed=?,
l3_required=?, l3_completed=?, paint_required=?, paint_completed=?, updated_at=? WHERE id=?`,
		d.Status, gradeValue(d.Grade), nullableStringPtr(d.BatchID), d.Brand, d.Model,
		boolInt(d.RepairRequired), boolInt(d.RepairCompleted),
		boolInt(d.Tracks.Display.Required), boolInt(d.Tracks.Display.Completed),
		boolInt(d.Tracks.Battery.Required), boolInt(d.Tracks.Battery.Completed),
		boolInt(d.Tracks.L3.Required), boolInt(d.Tracks.L3.Completed),
		boolInt(d.Tracks.Paint.Required), boolInt(d.Tracks.Paint.Completed),
		d.UpdatedAt, d.ID)
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

// SetDevicePlacement assigns (or clears, with nil) the device's rack.
func (r Repo) SetDevicePlacement(ctx context.Context, tx DBTX, deviceID string, rackID, location *string, updatedAt string) error {
	_, err := r.q(tx).ExecContext(ctx, `UPDATE devices SET rack_id=?, location=?, updated_at=? WHERE id=?`,
		nullableStringPtr(rackID), nullableStringPtr(location), updatedAt, deviceID)
	return err
}

func (r Repo) GetDevice(ctx context.Context, tx DBTX, id string) (domain.Device, error) {
	return scanDevice(r.q(tx).QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id=?`, id))
}

func (r Repo) GetDeviceByBarcode(ctx context.Context, tx DBTX, barcode string) (domain.Device, error) {
	return scanDevice(r.q(tx).QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE barcode=?`, strings.TrimSpace(barcode)))
}

type DeviceFilters struct {
	Status   domain.DeviceStatus
	BatchID  string
	RackID   string
	Category domain.Category
	Limit    int
}

func (r Repo) ListDevices(ctx context.Context, tx DBTX, f DeviceFilters) ([]domain.Device, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.BatchID != "" {
		clauses = append(clauses, "batch_id=?")
		args = append(args, f.BatchID)
	}
	if f.RackID != "" {
		clauses = append(clauses, "rack_id=?")
		args = append(args, f.RackID)
	}
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + deviceColumns + ` FROM devices ` + where + ` ORDER BY created_at ASC, rowid ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}
