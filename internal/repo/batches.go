package repo

import (
	"context"
	"database/sql"
	"errors"

	"refurbline/internal/domain"
)

func (r Repo) InsertPurchaseOrder(ctx context.Context, tx DBTX, po domain.PurchaseOrder) error {
	if _, err := r.q(tx).ExecContext(ctx, `INSERT INTO purchase_orders(id,number,supplier,verification_status,created_at) VALUES (?,?,?,?,?)`,
		po.ID, po.Number, nullable(po.Supplier), po.VerificationStatus, po.CreatedAt); err != nil {
		return err
	}
	for _, it := range po.Items {
		if _, err := r.q(tx).ExecContext(ctx, `INSERT INTO expected_items(purchase_order_id,category,brand,model,quantity) VALUES (?,?,?,?,?)`,
			po.ID, it.Category, it.Brand, it.Model, it.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetPurchaseOrder(ctx context.Context, tx DBTX, id string) (domain.PurchaseOrder, error) {
	var po domain.PurchaseOrder
	var supplier sql.NullString
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,number,supplier,verification_status,created_at FROM purchase_orders WHERE id=?`, id).
		Scan(&po.ID, &po.Number, &supplier, &po.VerificationStatus, &po.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return po, ErrNotFound
	}
	if err != nil {
		return po, err
	}
	po.Supplier = supplier.String
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,category,brand,model,quantity FROM expected_items WHERE purchase_order_id=? ORDER BY id ASC`, id)
	if err != nil {
		return po, err
	}
	defer rows.Close()
	for rows.Next() {
		var it domain.ExpectedItem
		if err := rows.Scan(&it.ID, &it.Category, &it.Brand, &it.Model, &it.Quantity); err != nil {
			return po, err
		}
		po.Items = append(po.Items, it)
	}
	return po, rows.Err()
}

func (r Repo) UpdatePurchaseOrderVerification(ctx context.Context, tx DBTX, id string, status domain.VerificationStatus, result *domain.VerificationResult) error {
	var blob any
	if result != nil {
		enc, err := encodeJSON(result)
		if err != nil {
			return err
		}
		blob = enc
	}
	_, err := r.q(tx).ExecContext(ctx, `UPDATE purchase_orders SET verification_status=?, verification_json=? WHERE id=?`, status, blob, id)
	return err
}

const batchColumns = `id,code,purchase_order_id,verification_status,verification_json,override_reason,verified_by,verified_at,created_at`

func scanBatch(s scanner) (domain.InwardBatch, error) {
	var b domain.InwardBatch
	var poID, blob, reason, verifiedBy, verifiedAt sql.NullString
	err := s.Scan(&b.ID, &b.Code, &poID, &b.VerificationStatus, &blob, &reason, &verifiedBy, &verifiedAt, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return b, ErrNotFound
	}
	if err != nil {
		return b, err
	}
	b.PurchaseOrderID = stringPtr(poID)
	b.OverrideReason = reason.String
	b.VerifiedBy = stringPtr(verifiedBy)
	b.VerifiedAt = stringPtr(verifiedAt)
	if blob.Valid {
		var res domain.VerificationResult
		if err := decodeJSON(blob.String, &res); err != nil {
			return b, err
		}
		b.Verification = &res
	}
	return b, nil
}

func (r Repo) InsertBatch(ctx context.Context, tx DBTX, b domain.InwardBatch) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO inward_batches(id,code,purchase_order_id,verification_status,created_at) VALUES (?,?,?,?,?)`,
		b.ID, b.Code, nullableStringPtr(b.PurchaseOrderID), b.VerificationStatus, b.CreatedAt)
	return err
}

func (r Repo) GetBatch(ctx context.Context, tx DBTX, id string) (domain.InwardBatch, error) {
	return scanBatch(r.q(tx).QueryRowContext(ctx, `SELECT `+batchColumns+` FROM inward_batches WHERE id=?`, id))
}

// UpdateBatchVerification stores the outcome of matching or an override.
func (r Repo) UpdateBatchVerification(ctx context.Context, tx DBTX, b domain.InwardBatch) error {
	var blob any
	if b.Verification != nil {
		enc, err := encodeJSON(b.Verification)
		if err != nil {
			return err
		}
		blob = enc
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE inward_batches SET verification_status=?, verification_json=?, override_reason=?, verified_by=?, verified_at=? WHERE id=?`,
		b.VerificationStatus, blob, nullable(b.OverrideReason), nullableStringPtr(b.VerifiedBy), nullableStringPtr(b.VerifiedAt), b.ID)
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

func (r Repo) ListBatches(ctx context.Context, tx DBTX) ([]domain.InwardBatch, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+batchColumns+` FROM inward_batches ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.InwardBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}
