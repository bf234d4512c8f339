package engine

import (
	"context"
	"fmt"
	"strings"

	"refurbline/internal/domain"
	"refurbline/internal/engine/auth"
	"refurbline/internal/events"
)

// StartWorkJob lets a specialist take a PENDING sub-job. Only the first
// caller gets it.
func (e Engine) StartWorkJob(ctx context.Context, p auth.Principal, workJobID string) (domain.WorkJob, error) {
	if err := auth.Require(p, auth.PermWorkPerform); err != nil {
		return domain.WorkJob{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkJob{}, err
	}
	defer tx.Rollback()

	w, err := e.Repo.GetWorkJob(ctx, tx, workJobID)
	if err != nil {
		return domain.WorkJob{}, err
	}
	now := e.stamp()
	ok, err := e.Repo.StartWorkJob(ctx, tx, w.ID, p.ActorID, now)
	if err != nil {
		return domain.WorkJob{}, err
	}
	if !ok {
		return domain.WorkJob{}, StateError{Entity: "work_job", ID: w.ID, Message: fmt.Sprintf("cannot start: status is %s", w.Status)}
	}
	if w, err = e.Repo.GetWorkJob(ctx, tx, w.ID); err != nil {
		return domain.WorkJob{}, err
	}
	if err := e.appendEvent(ctx, tx, "work.started", "work_job", w.ID, p.ActorID, events.EventPayload{
		"device_id": w.DeviceID, "track": w.Track,
	}); err != nil {
		return domain.WorkJob{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkJob{}, err
	}
	return w, nil
}

// ownedInProgress checks that the sub-job is running and belongs to the caller.
func ownedInProgress(p auth.Principal, w domain.WorkJob) error {
	if w.Status != domain.WorkInProgress {
		return StateError{Entity: "work_job", ID: w.ID, Message: fmt.Sprintf("status is %s, want IN_PROGRESS", w.Status)}
	}
	if w.TechnicianID == nil || (*w.TechnicianID != p.ActorID && !p.HasRole(auth.RoleAdmin)) {
		return StateError{Entity: "work_job", ID: w.ID, Message: "assigned to another technician"}
	}
	return nil
}

// CompleteWorkJob closes a non-paint sub-job. The coordinator still has to
// collect it before the track counts as done.
func (e Engine) CompleteWorkJob(ctx context.Context, p auth.Principal, workJobID, notes string) (domain.WorkJob, error) {
	if err := auth.Require(p, auth.PermWorkPerform); err != nil {
		return domain.WorkJob{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkJob{}, err
	}
	defer tx.Rollback()

	w, err := e.Repo.GetWorkJob(ctx, tx, workJobID)
	if err != nil {
		return domain.WorkJob{}, err
	}
	if w.Track == domain.TrackPaint {
		return domain.WorkJob{}, StateError{Entity: "work_job", ID: w.ID, Message: "paint jobs finish panel by panel"}
	}
	if err := ownedInProgress(p, w); err != nil {
		return domain.WorkJob{}, err
	}
	now := e.stamp()
	w.Status = domain.WorkCompleted
	w.CompletedAt = &now
	w.ResultNotes = strings.TrimSpace(notes)
	if err := e.Repo.UpdateWorkJob(ctx, tx, w); err != nil {
		return domain.WorkJob{}, err
	}
	if err := e.appendEvent(ctx, tx, "work.completed", "work_job", w.ID, p.ActorID, events.EventPayload{
		"device_id": w.DeviceID, "track": w.Track,
	}); err != nil {
		return domain.WorkJob{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkJob{}, err
	}
	return w, nil
}

var nextPanelStatus = map[domain.PanelStatus]domain.PanelStatus{
	domain.PanelAwaitingPaint: domain.PanelInPaint,
	domain.PanelInPaint:       domain.PanelReadyForCollection,
}

// AdvancePanel moves one panel a step through the paint shop. FITTED is set
// only when the coordinator collects the paint track.
func (e Engine) AdvancePanel(ctx context.Context, p auth.Principal, panelID string) (domain.PaintPanel, error) {
	if err := auth.Require(p, auth.PermWorkPerform); err != nil {
		return domain.PaintPanel{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PaintPanel{}, err
	}
	defer tx.Rollback()

	pn, err := e.Repo.GetPaintPanel(ctx, tx, panelID)
	if err != nil {
		return domain.PaintPanel{}, err
	}
	w, err := e.Repo.GetWorkJob(ctx, tx, pn.WorkJobID)
	if err != nil {
		return domain.PaintPanel{}, err
	}
	if err := ownedInProgress(p, w); err != nil {
		return domain.PaintPanel{}, err
	}
	next, ok := nextPanelStatus[pn.Status]
	if !ok {
		return domain.PaintPanel{}, StateError{Entity: "paint_panel", ID: pn.ID, Message: fmt.Sprintf("cannot advance from %s", pn.Status)}
	}
	now := e.stamp()
	if err := e.Repo.UpdatePaintPanelStatus(ctx, tx, pn.ID, next, now); err != nil {
		return domain.PaintPanel{}, err
	}
	if err := e.appendEvent(ctx, tx, "paint.panel_advanced", "paint_panel", pn.ID, p.ActorID, events.EventPayload{
		"device_id": pn.DeviceID, "panel": pn.Panel, "from": pn.Status, "to": next,
	}); err != nil {
		return domain.PaintPanel{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PaintPanel{}, err
	}
	pn.Status, pn.UpdatedAt = next, now
	return pn, nil
}
