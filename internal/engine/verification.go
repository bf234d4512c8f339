package engine

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"refurbline/internal/domain"
	"refurbline/internal/engine/auth"
	"refurbline/internal/events"
	"refurbline/internal/repo"
	"refurbline/internal/shipment"
)

type PurchaseOrderInput struct {
	Number   string                `json:"number"`
	Supplier string                `json:"supplier,omitempty"`
	Items    []domain.ExpectedItem `json:"items"`
}

func (e Engine) CreatePurchaseOrder(ctx context.Context, p auth.Principal, in PurchaseOrderInput) (domain.PurchaseOrder, error) {
	if err := auth.Require(p, auth.PermBatchManage); err != nil {
		return domain.PurchaseOrder{}, err
	}
	number := strings.TrimSpace(in.Number)
	if number == "" {
		return domain.PurchaseOrder{}, ValidationError{Field: "number", Message: "is required"}
	}
	if len(in.Items) == 0 {
		return domain.PurchaseOrder{}, ValidationError{Field: "items", Message: "at least one line is required"}
	}
	items := make([]domain.ExpectedItem, 0, len(in.Items))
	for i, it := range in.Items {
		if !it.Category.Valid() {
			return domain.PurchaseOrder{}, ValidationError{Field: fmt.Sprintf("items[%d].category", i), Message: "unknown category"}
		}
		if it.Quantity <= 0 {
			return domain.PurchaseOrder{}, ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Message: "must be positive"}
		}
		it.Brand = strings.TrimSpace(it.Brand)
		it.Model = strings.TrimSpace(it.Model)
		items = append(items, it)
	}
	po := domain.PurchaseOrder{
		ID:                 newID(),
		Number:             number,
		Supplier:           strings.TrimSpace(in.Supplier),
		VerificationStatus: domain.VerificationUnverified,
		Items:              items,
		CreatedAt:          e.stamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertPurchaseOrder(ctx, tx, po); err != nil {
		return domain.PurchaseOrder{}, err
	}
	if err := e.appendEvent(ctx, tx, "po.created", "purchase_order", po.ID, p.ActorID, events.EventPayload{
		"number": po.Number, "lines": len(items),
	}); err != nil {
		return domain.PurchaseOrder{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PurchaseOrder{}, err
	}
	return e.Repo.GetPurchaseOrder(ctx, nil, po.ID)
}

// CreateBatch opens an inward batch, optionally linked to a purchase order.
func (e Engine) CreateBatch(ctx context.Context, p auth.Principal, code, purchaseOrderID string) (domain.InwardBatch, error) {
	if err := auth.Require(p, auth.PermBatchManage); err != nil {
		return domain.InwardBatch{}, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.InwardBatch{}, ValidationError{Field: "code", Message: "is required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.InwardBatch{}, err
	}
	defer tx.Rollback()
	if purchaseOrderID != "" {
		if _, err := e.Repo.GetPurchaseOrder(ctx, tx, purchaseOrderID); err != nil {
			return domain.InwardBatch{}, err
		}
	}
	b := domain.InwardBatch{
		ID:                 newID(),
		Code:               code,
		PurchaseOrderID:    optionalString(purchaseOrderID),
		VerificationStatus: domain.VerificationUnverified,
		CreatedAt:          e.stamp(),
	}
	if err := e.Repo.InsertBatch(ctx, tx, b); err != nil {
		return domain.InwardBatch{}, err
	}
	if err := e.appendEvent(ctx, tx, "batch.created", "batch", b.ID, p.ActorID, events.EventPayload{
		"code": code, "purchase_order_id": purchaseOrderID,
	}); err != nil {
		return domain.InwardBatch{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.InwardBatch{}, err
	}
	return b, nil
}

// VerifyShipment matches the batch's devices against its purchase order and
// stores the result on both. A VERIFIED batch is locked afterwards.
func (e Engine) VerifyShipment(ctx context.Context, p auth.Principal, batchID string) (domain.VerificationResult, error) {
	if err := auth.Require(p, auth.PermBatchVerify); err != nil {
		return domain.VerificationResult{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.VerificationResult{}, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBatch(ctx, tx, batchID)
	if err != nil {
		return domain.VerificationResult{}, err
	}
	if b.Locked() {
		return domain.VerificationResult{}, ErrBatchLocked
	}
	if b.PurchaseOrderID == nil {
		return domain.VerificationResult{}, ErrNoPurchaseOrder
	}
	po, err := e.Repo.GetPurchaseOrder(ctx, tx, *b.PurchaseOrderID)
	if err != nil {
		return domain.VerificationResult{}, err
	}
	devices, err := e.Repo.ListDevices(ctx, tx, repo.DeviceFilters{BatchID: b.ID})
	if err != nil {
		return domain.VerificationResult{}, err
	}
	received := make([]domain.MatchedUnit, 0, len(devices))
	for _, d := range devices {
		received = append(received, domain.MatchedUnit{DeviceID: d.ID, Barcode: d.Barcode, Category: d.Category, Brand: d.Brand, Model: d.Model})
	}
	res := shipment.Match(po.Items, received, e.Config.Verification.ExtraTolerance)

	now := e.stamp()
	actor := p.ActorID
	b.VerificationStatus = res.Status
	b.Verification = &res
	b.OverrideReason = ""
	b.VerifiedBy = &actor
	b.VerifiedAt = &now
	if err := e.Repo.UpdateBatchVerification(ctx, tx, b); err != nil {
		return domain.VerificationResult{}, err
	}
	if err := e.Repo.UpdatePurchaseOrderVerification(ctx, tx, po.ID, res.Status, &res); err != nil {
		return domain.VerificationResult{}, err
	}
	if err := e.appendEvent(ctx, tx, "batch.verified", "batch", b.ID, p.ActorID, events.EventPayload{
		"status": res.Status, "match_percentage": res.MatchPercentage,
		"missing": len(res.Missing), "extra": len(res.Extra),
	}); err != nil {
		return domain.VerificationResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.VerificationResult{}, err
	}
	return res, nil
}

// OverrideVerification marks a batch SKIPPED without matching. The reason is
// mandatory and kept on the batch.
func (e Engine) OverrideVerification(ctx context.Context, p auth.Principal, batchID, reason string) (domain.InwardBatch, error) {
	if err := auth.Require(p, auth.PermBatchOverride); err != nil {
		return domain.InwardBatch{}, err
	}
	reason = strings.TrimSpace(reason)
	minLen := e.Config.Verification.MinOverrideReason
	if minLen <= 0 {
		minLen = 10
	}
	if utf8.RuneCountInString(reason) < minLen {
		return domain.InwardBatch{}, ValidationError{Field: "reason", Message: fmt.Sprintf("must be at least %d characters", minLen)}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.InwardBatch{}, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBatch(ctx, tx, batchID)
	if err != nil {
		return domain.InwardBatch{}, err
	}
	if b.Locked() {
		return domain.InwardBatch{}, ErrBatchLocked
	}
	now := e.stamp()
	actor := p.ActorID
	b.VerificationStatus = domain.VerificationSkipped
	b.Verification = nil
	b.OverrideReason = reason
	b.VerifiedBy = &actor
	b.VerifiedAt = &now
	if err := e.Repo.UpdateBatchVerification(ctx, tx, b); err != nil {
		return domain.InwardBatch{}, err
	}
	if b.PurchaseOrderID != nil {
		if err := e.Repo.UpdatePurchaseOrderVerification(ctx, tx, *b.PurchaseOrderID, domain.VerificationSkipped, nil); err != nil {
			return domain.InwardBatch{}, err
		}
	}
	if err := e.appendEvent(ctx, tx, "batch.verification_overridden", "batch", b.ID, p.ActorID, events.EventPayload{"reason": reason}); err != nil {
		return domain.InwardBatch{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.InwardBatch{}, err
	}
	return b, nil
}

// VerificationReport returns a batch with its stored result for export.
// Locked batches stay readable; that is how they get printed.
func (e Engine) VerificationReport(ctx context.Context, p auth.Principal, batchID string) (domain.InwardBatch, error) {
	if err := auth.Require(p, auth.PermReportsView); err != nil {
		return domain.InwardBatch{}, err
	}
	b, err := e.Repo.GetBatch(ctx, nil, batchID)
	if err != nil {
		return domain.InwardBatch{}, err
	}
	if b.Verification == nil {
		return domain.InwardBatch{}, StateError{Entity: "batch", ID: b.ID, Message: "not verified yet"}
	}
	return b, nil
}
