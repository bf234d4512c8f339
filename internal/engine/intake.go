package engine

import (
	"context"
	"errors"
	"strings"

	"refurbline/internal/domain"
	"refurbline/internal/engine/auth"
	"refurbline/internal/events"
	"refurbline/internal/repo"
)

type DeviceInput struct {
	Barcode   string           `json:"barcode"`
	Category  domain.Category  `json:"category"`
	Brand     string           `json:"brand,omitempty"`
	Model     string           `json:"model,omitempty"`
	Ownership domain.Ownership `json:"ownership,omitempty"`
	BatchID   string           `json:"batch_id,omitempty"`
}

// RegisterDevice creates a RECEIVED device, optionally inside a batch.
func (e Engine) RegisterDevice(ctx context.Context, p auth.Principal, in DeviceInput) (domain.Device, error) {
	if err := auth.Require(p, auth.PermDeviceIntake); err != nil {
		return domain.Device{}, err
	}
	in.Barcode = strings.TrimSpace(in.Barcode)
	if in.Barcode == "" {
		return domain.Device{}, ValidationError{Field: "barcode", Message: "is required"}
	}
	if !in.Category.Valid() {
		return domain.Device{}, ValidationError{Field: "category", Message: "must be one of LAPTOP, DESKTOP, WORKSTATION, SERVER, MONITOR, ALL_IN_ONE, TABLET"}
	}
	switch in.Ownership {
	case "":
		in.Ownership = domain.OwnershipOwned
	case domain.OwnershipOwned, domain.OwnershipConsign, domain.OwnershipCustomer:
	default:
		return domain.Device{}, ValidationError{Field: "ownership", Message: "must be OWNED, CONSIGNMENT or CUSTOMER"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Device{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetDeviceByBarcode(ctx, tx, in.Barcode); err == nil {
		return domain.Device{}, ValidationError{Field: "barcode", Message: "already registered"}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Device{}, err
	}
	if in.BatchID != "" {
		b, err := e.Repo.GetBatch(ctx, tx, in.BatchID)
		if err != nil {
			return domain.Device{}, err
		}
		if b.Locked() {
			return domain.Device{}, ErrBatchLocked
		}
	}
	now := e.stamp()
	d := domain.Device{
		ID:        newID(),
		Barcode:   in.Barcode,
		Category:  in.Category,
		Brand:     strings.TrimSpace(in.Brand),
		Model:     strings.TrimSpace(in.Model),
		Status:    domain.StatusReceived,
		Ownership: in.Ownership,
		BatchID:   optionalString(in.BatchID),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertDevice(ctx, tx, d); err != nil {
		return domain.Device{}, err
	}
	if err := e.appendEvent(ctx, tx, "device.registered", "device", d.ID, p.ActorID, events.EventPayload{
		"barcode": d.Barcode, "category": d.Category, "batch_id": in.BatchID,
	}); err != nil {
		return domain.Device{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Device{}, err
	}
	return e.placeAfterCommit(ctx, d), nil
}

// StartInspection moves a RECEIVED device onto the inspection bench.
func (e Engine) StartInspection(ctx context.Context, p auth.Principal, deviceID string) (domain.Device, error) {
	if err := auth.Require(p, auth.PermDeviceInspect); err != nil {
		return domain.Device{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Device{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDevice(ctx, tx, deviceID)
	if err != nil {
		return domain.Device{}, err
	}
	from := d.Status
	if err := transition(&d, nil, domain.StatusPendingInspection, e.stamp()); err != nil {
		return domain.Device{}, err
	}
	if from == d.Status {
		return domain.Device{}, InvalidTransitionError{From: from, To: d.Status}
	}
	if err := e.Repo.UpdateDevice(ctx, tx, d); err != nil {
		return domain.Device{}, err
	}
	if err := e.appendEvent(ctx, tx, "device.inspection_started", "device", d.ID, p.ActorID, events.EventPayload{"from": from}); err != nil {
		return domain.Device{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Device{}, err
	}
	return e.placeAfterCommit(ctx, d), nil
}

// StockOut releases a READY_FOR_STOCK device as sold or rented.
func (e Engine) StockOut(ctx context.Context, p auth.Principal, deviceID string, to domain.DeviceStatus) (domain.Device, error) {
	if to != domain.StatusStockOutSold && to != domain.StatusStockOutRental {
		return domain.Device{}, ValidationError{Field: "status", Message: "must be STOCK_OUT_SOLD or STOCK_OUT_RENTAL"}
	}
	if err := auth.Require(p, auth.PermStockOut); err != nil {
		return domain.Device{}, err
	}
	return e.terminate(ctx, p, deviceID, to, "")
}

// Scrap takes a device out of the system from any non-terminal status.
func (e Engine) Scrap(ctx context.Context, p auth.Principal, deviceID, reason string) (domain.Device, error) {
	if err := auth.Require(p, auth.PermDeviceScrap); err != nil {
		return domain.Device{}, err
	}
	if strings.TrimSpace(reason) == "" {
		return domain.Device{}, ValidationError{Field: "reason", Message: "is required"}
	}
	return e.terminate(ctx, p, deviceID, domain.StatusScrapped, strings.TrimSpace(reason))
}

func (e Engine) terminate(ctx context.Context, p auth.Principal, deviceID string, to domain.DeviceStatus, reason string) (domain.Device, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Device{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDevice(ctx, tx, deviceID)
	if err != nil {
		return domain.Device{}, err
	}
	from := d.Status
	now := e.stamp()
	job, err := e.Repo.ActiveRepairJob(ctx, tx, d.ID)
	hasJob := err == nil
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return domain.Device{}, err
	}
	var jobPtr *domain.RepairJob
	if hasJob {
		jobPtr = &job
	}
	if err := transition(&d, jobPtr, to, now); err != nil {
		return domain.Device{}, err
	}
	if err := e.Repo.UpdateDevice(ctx, tx, d); err != nil {
		return domain.Device{}, err
	}
	if hasJob {
		if err := e.Repo.UpdateRepairJob(ctx, tx, job); err != nil {
			return domain.Device{}, err
		}
		if err := e.cancelInFlight(ctx, tx, d.ID, "", now); err != nil {
			return domain.Device{}, err
		}
	}
	if err := e.appendEvent(ctx, tx, "device.stocked_out", "device", d.ID, p.ActorID, events.EventPayload{
		"from": from, "to": to, "reason": reason,
	}); err != nil {
		return domain.Device{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Device{}, err
	}
	return e.placeAfterCommit(ctx, d), nil
}
