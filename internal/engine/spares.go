package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"refurbline/internal/domain"
	"refurbline/internal/engine/auth"
	"refurbline/internal/events"
	"refurbline/internal/repo"
	"refurbline/internal/spares"
)

// SparesValidation is the dry-run answer for a spares request.
type SparesValidation struct {
	Valid  bool              `json:"valid"`
	Items  []domain.PartLine `json:"items"`
	Errors []string          `json:"errors"`
}

// ValidateSpares checks a request against current stock without touching it.
func (e Engine) ValidateSpares(ctx context.Context, text string) (SparesValidation, error) {
	lines, err := spares.Parse(text)
	var se *spares.SyntaxError
	if errors.As(err, &se) {
		return SparesValidation{Items: []domain.PartLine{}, Errors: []string{se.Error()}}, nil
	}
	if err != nil {
		return SparesValidation{}, err
	}
	if lines == nil {
		lines = []domain.PartLine{}
	}
	_, problems, err := e.checkStock(ctx, nil, lines)
	if err != nil {
		return SparesValidation{}, err
	}
	res := SparesValidation{Valid: len(problems) == 0, Items: lines, Errors: []string{}}
	for _, p := range problems {
		res.Errors = append(res.Errors, p.Error())
	}
	return res, nil
}

// checkStock resolves every line to its part. Unknown parts and shortfalls
// are collected, not returned early.
func (e Engine) checkStock(ctx context.Context, tx *sql.Tx, lines []domain.PartLine) ([]domain.SparePart, []error, error) {
	var dbtx repo.DBTX
	if tx != nil {
		dbtx = tx
	}
	parts := make([]domain.SparePart, len(lines))
	var problems []error
	for i, l := range lines {
		part, err := e.Repo.GetSparePartByCode(ctx, dbtx, l.Code)
		if errors.Is(err, repo.ErrNotFound) {
			problems = append(problems, PartNotFoundError{Code: l.Code})
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		if part.CurrentStock < l.Quantity {
			problems = append(problems, InsufficientStockError{Code: part.PartCode, Requested: l.Quantity, Available: part.CurrentStock})
		}
		parts[i] = part
	}
	return parts, problems, nil
}

// IssueSpares validates the request and, only if every line can be served,
// deducts stock and releases the job in one transaction.
func (e Engine) IssueSpares(ctx context.Context, p auth.Principal, jobID, text string) (domain.RepairJob, error) {
	if err := auth.Require(p, auth.PermSparesIssue); err != nil {
		return domain.RepairJob{}, err
	}
	lines, err := spares.Parse(text)
	if err != nil {
		return domain.RepairJob{}, ValidationError{Field: "spares", Message: err.Error()}
	}
	if len(lines) == 0 {
		return domain.RepairJob{}, ValidationError{Field: "spares", Message: "nothing to issue"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RepairJob{}, err
	}
	defer tx.Rollback()

	job, err := e.Repo.GetRepairJob(ctx, tx, jobID)
	if err != nil {
		return domain.RepairJob{}, err
	}
	if job.Status == domain.JobRepairClosed {
		return domain.RepairJob{}, StateError{Entity: "repair_job", ID: job.ID, Message: "closed"}
	}
	d, err := e.Repo.GetDevice(ctx, tx, job.DeviceID)
	if err != nil {
		return domain.RepairJob{}, err
	}
	waiting := d.Status == domain.StatusWaitingForSpares ||
		(d.Status == domain.StatusUnderRepair && job.SparesOutstanding)
	if !waiting {
		return domain.RepairJob{}, StateError{Entity: "device", ID: d.ID, Message: fmt.Sprintf("not waiting for spares (status %s)", d.Status)}
	}

	parts, problems, err := e.checkStock(ctx, tx, lines)
	if err != nil {
		return domain.RepairJob{}, err
	}
	if len(problems) > 0 {
		return domain.RepairJob{}, errors.Join(problems...)
	}
	for i, l := range lines {
		ok, err := e.Repo.DecrementStock(ctx, tx, parts[i].ID, l.Quantity)
		if err != nil {
			return domain.RepairJob{}, err
		}
		if !ok {
			return domain.RepairJob{}, InsufficientStockError{Code: parts[i].PartCode, Requested: l.Quantity, Available: parts[i].CurrentStock}
		}
	}

	now := e.stamp()
	job.SparesIssued = append(job.SparesIssued, lines...)
	job.SparesOutstanding = false
	next := domain.StatusReadyForRepair
	if job.L2EngineerID != nil {
		next = domain.StatusUnderRepair
	}
	if err := transition(&d, &job, next, now); err != nil {
		return domain.RepairJob{}, err
	}
	if err := e.Repo.UpdateDevice(ctx, tx, d); err != nil {
		return domain.RepairJob{}, err
	}
	if err := e.Repo.UpdateRepairJob(ctx, tx, job); err != nil {
		return domain.RepairJob{}, err
	}
	if err := e.appendEvent(ctx, tx, "spares.issued", "repair_job", job.ID, p.ActorID, events.EventPayload{
		"device_id": d.ID, "lines": spares.Format(lines), "next_status": next,
	}); err != nil {
		return domain.RepairJob{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.RepairJob{}, err
	}
	e.placeAfterCommit(ctx, d)
	return job, nil
}

// ReceiveStock books incoming parts onto an existing part code.
func (e Engine) ReceiveStock(ctx context.Context, p auth.Principal, code string, qty int) (domain.SparePart, error) {
	if err := auth.Require(p, auth.PermInventoryManage); err != nil {
		return domain.SparePart{}, err
	}
	if qty <= 0 {
		return domain.SparePart{}, ValidationError{Field: "quantity", Message: "must be positive"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SparePart{}, err
	}
	defer tx.Rollback()

	part, err := e.Repo.GetSparePartByCode(ctx, tx, code)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.SparePart{}, PartNotFoundError{Code: code}
	}
	if err != nil {
		return domain.SparePart{}, err
	}
	if err := e.Repo.AddStock(ctx, tx, part.ID, qty); err != nil {
		return domain.SparePart{}, err
	}
	if err := e.appendEvent(ctx, tx, "stock.received", "spare_part", part.ID, p.ActorID, events.EventPayload{
		"part_code": part.PartCode, "quantity": qty,
	}); err != nil {
		return domain.SparePart{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SparePart{}, err
	}
	part.CurrentStock += qty
	return part, nil
}
