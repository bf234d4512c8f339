package repo

import (
	"context"
	"database/sql"
	"errors"

	"refurbline/internal/domain"
)

const rackSelect = `SELECT r.id, r.code, r.stage, r.capacity, r.active, COUNT(d.id)
FROM racks r LEFT JOIN devices d ON d.rack_id = r.id`

func scanRack(s scanner) (domain.Rack, error) {
	var rk domain.Rack
	err := s.Scan(&rk.ID, &rk.Code, &rk.Stage, &rk.Capacity, &rk.Active, &rk.OccupantCount)
	if errors.Is(err, sql.ErrNoRows) {
		return rk, ErrNotFound
	}
	return rk, err
}

// UpsertRack inserts a rack or updates stage, capacity and active flag of an
// existing code.
func (r Repo) UpsertRack(ctx context.Context, tx DBTX, rk domain.Rack) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO racks(id,code,stage,capacity,active) VALUES (?,?,?,?,?)
ON CONFLICT(code) DO UPDATE SET stage=excluded.stage, capacity=excluded.capacity, active=excluded.active`,
		rk.ID, rk.Code, rk.Stage, rk.Capacity, boolInt(rk.Active))
	return err
}

func (r Repo) GetRack(ctx context.Context, tx DBTX, id string) (domain.Rack, error) {
	return scanRack(r.q(tx).QueryRowContext(ctx, rackSelect+` WHERE r.id=? GROUP BY r.id`, id))
}

// ListRacks returns racks with occupancy ordered by code. An empty stage
// lists every rack; activeOnly drops retired racks.
func (r Repo) ListRacks(ctx context.Context, tx DBTX, stage domain.RackStage, activeOnly bool) ([]domain.Rack, error) {
	query := rackSelect + ` WHERE 1=1`
	var args []any
	if stage != "" {
		query += ` AND r.stage=?`
		args = append(args, stage)
	}
	if activeOnly {
		query += ` AND r.active=1`
	}
	query += ` GROUP BY r.id ORDER BY r.code ASC`
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Rack
	for rows.Next() {
		rk, err := scanRack(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rk)
	}
	return res, rows.Err()
}
