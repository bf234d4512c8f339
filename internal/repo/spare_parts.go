package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"refurbline/internal/domain"
)

func scanSparePart(s scanner) (domain.SparePart, error) {
	var p domain.SparePart
	err := s.Scan(&p.ID, &p.PartCode, &p.Name, &p.CurrentStock, &p.MinStock, &p.MaxStock)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

// UpsertSparePart inserts a part or, if the code exists, refreshes its name
// and thresholds. Stock on hand is only set on first insert.
func (r Repo) UpsertSparePart(ctx context.Context, tx DBTX, p domain.SparePart) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO spare_parts(id,part_code,name,current_stock,min_stock,max_stock) VALUES (?,?,?,?,?,?)
ON CONFLICT(part_code) DO UPDATE SET name=excluded.name, min_stock=excluded.min_stock, max_stock=excluded.max_stock`,
		p.ID, strings.TrimSpace(p.PartCode), p.Name, p.CurrentStock, p.MinStock, p.MaxStock)
	return err
}

// GetSparePartByCode matches the code case-insensitively.
func (r Repo) GetSparePartByCode(ctx context.Context, tx DBTX, code string) (domain.SparePart, error) {
	return scanSparePart(r.q(tx).QueryRowContext(ctx, `SELECT id,part_code,name,current_stock,min_stock,max_stock FROM spare_parts WHERE part_code=? COLLATE NOCASE`,
		strings.TrimSpace(code)))
}

func (r Repo) ListSpareParts(ctx context.Context, tx DBTX) ([]domain.SparePart, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,part_code,name,current_stock,min_stock,max_stock FROM spare_parts ORDER BY part_code ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SparePart
	for rows.Next() {
		p, err := scanSparePart(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// DecrementStock removes qty units only if that many are on hand. It returns
// false, leaving the row untouched, when stock is short.
func (r Repo) DecrementStock(ctx context.Context, tx DBTX, partID string, qty int) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE spare_parts SET current_stock=current_stock-? WHERE id=? AND current_stock>=?`, qty, partID, qty)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

// AddStock receives qty units into inventory.
func (r Repo) AddStock(ctx context.Context, tx DBTX, partID string, qty int) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE spare_parts SET current_stock=current_stock+? WHERE id=?`, qty, partID)
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
