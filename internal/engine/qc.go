package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"refurbline/internal/checklist"
	"refurbline/internal/domain"
	"refurbline/internal/engine/auth"
	"refurbline/internal/events"
	"refurbline/internal/notify"
	"refurbline/internal/repo"
)

type QCInput struct {
	DeviceID string       `json:"device_id"`
	Passed   bool         `json:"passed"`
	Grade    domain.Grade `json:"grade,omitempty" enum:"A,B,"`
	Remarks  string       `json:"remarks,omitempty"`
}

// SubmitQC records a QC verdict. A pass grades the device and closes its
// repair job; a fail sends it back to READY_FOR_REPAIR and reopens the job
// for a fresh claim.
func (e Engine) SubmitQC(ctx context.Context, p auth.Principal, in QCInput) (domain.QCRecord, error) {
	if err := auth.Require(p, auth.PermQCSubmit); err != nil {
		return domain.QCRecord{}, err
	}
	remarks := strings.TrimSpace(in.Remarks)
	if in.Passed && in.Grade != domain.GradeA && in.Grade != domain.GradeB {
		return domain.QCRecord{}, ValidationError{Field: "grade", Message: "must be A or B on pass"}
	}
	if !in.Passed && remarks == "" {
		return domain.QCRecord{}, ValidationError{Field: "remarks", Message: "required on fail"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.QCRecord{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDevice(ctx, tx, in.DeviceID)
	if err != nil {
		return domain.QCRecord{}, err
	}
	var reasons []string
	if d.Status != domain.StatusAwaitingQC {
		reasons = append(reasons, fmt.Sprintf("status is %s", d.Status))
	}
	if d.RepairRequired && !d.RepairCompleted {
		reasons = append(reasons, "repair not completed")
	}
	if !d.Tracks.Paint.Satisfied() {
		reasons = append(reasons, "paint not completed")
	}
	if len(reasons) > 0 {
		return domain.QCRecord{}, NotReadyForQCError{DeviceID: d.ID, Reasons: reasons}
	}

	var job *domain.RepairJob
	active, err := e.Repo.ActiveRepairJob(ctx, tx, d.ID)
	switch {
	case err == nil:
		job = &active
	case !errors.Is(err, repo.ErrNotFound):
		return domain.QCRecord{}, err
	}
	snapshot, err := e.Repo.CurrentChecklist(ctx, tx, d.ID)
	if err != nil {
		return domain.QCRecord{}, err
	}
	now := e.stamp()
	rec := domain.QCRecord{
		ID:          newID(),
		DeviceID:    d.ID,
		Passed:      in.Passed,
		Remarks:     remarks,
		Checklist:   snapshot,
		InspectorID: p.ActorID,
		CreatedAt:   now,
	}

	var previousL2 string
	newJob := false
	if in.Passed {
		grade := in.Grade
		rec.Grade = &grade
		if err := transition(&d, job, domain.StatusReadyForStock, now); err != nil {
			return domain.QCRecord{}, err
		}
		d.Grade = &grade
	} else {
		if job == nil {
			tat := e.Config.TAT()
			if tat <= 0 {
				tat = 72 * time.Hour
			}
			job = &domain.RepairJob{
				ID:                   newID(),
				DeviceID:             d.ID,
				InspectionEngineerID: p.ActorID,
				ReportedIssues:       []domain.ReportedIssue{},
				TATDueAt:             e.now().UTC().Add(tat).Format(time.RFC3339),
				CreatedAt:            now,
			}
			newJob = true
		}
		if job.L2EngineerID != nil {
			previousL2 = *job.L2EngineerID
		}
		job.L2EngineerID = nil
		job.Notes = appendNote(job.Notes, fmt.Sprintf("QC failed %s by %s: %s", now, p.ActorID, remarks))
		if err := transition(&d, job, domain.StatusReadyForRepair, now); err != nil {
			return domain.QCRecord{}, err
		}
		d.RepairRequired = true
		d.RepairCompleted = false
		if d.Tracks.Paint.Required {
			d.Tracks.Paint.Completed = false
		}
	}
	switch {
	case newJob:
		rec.RepairJobID = &job.ID
		if err := e.Repo.InsertRepairJob(ctx, tx, *job); err != nil {
			return domain.QCRecord{}, err
		}
	case job != nil:
		rec.RepairJobID = &job.ID
		if err := e.Repo.UpdateRepairJob(ctx, tx, *job); err != nil {
			return domain.QCRecord{}, err
		}
	}
	if err := e.Repo.UpdateDevice(ctx, tx, d); err != nil {
		return domain.QCRecord{}, err
	}
	if err := e.Repo.InsertQCRecord(ctx, tx, rec); err != nil {
		return domain.QCRecord{}, err
	}
	evtType := "qc.passed"
	if !in.Passed {
		evtType = "qc.failed"
	}
	if err := e.appendEvent(ctx, tx, evtType, "device", d.ID, p.ActorID, events.EventPayload{
		"qc_record_id": rec.ID, "grade": in.Grade, "remarks": remarks,
	}); err != nil {
		return domain.QCRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.QCRecord{}, err
	}
	e.placeAfterCommit(ctx, d)
	if !in.Passed && previousL2 != "" {
		e.publish(ctx, notify.Event{
			Type:        notify.TypeQCFailed,
			DeviceID:    d.ID,
			RepairJobID: job.ID,
			Recipient:   previousL2,
			Message:     fmt.Sprintf("%s failed QC: %s", d.Barcode, remarks),
		})
	}
	return rec, nil
}

func appendNote(notes, line string) string {
	if strings.TrimSpace(notes) == "" {
		return line
	}
	return notes + "\n" + line
}

// RecheckChecklistItem lets QC override one line of the current checklist
// pass. The inspection row is kept; the QC row supersedes it.
func (e Engine) RecheckChecklistItem(ctx context.Context, p auth.Principal, deviceID string, index int, status domain.CheckStatus, notes string) (domain.ChecklistItem, error) {
	if err := auth.Require(p, auth.PermQCSubmit); err != nil {
		return domain.ChecklistItem{}, err
	}
	switch status {
	case domain.CheckPass, domain.CheckFail, domain.CheckNotApplicable, domain.CheckPending:
	default:
		return domain.ChecklistItem{}, ValidationError{Field: "status", Message: "must be PENDING, PASS, FAIL or NOT_APPLICABLE"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ChecklistItem{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDevice(ctx, tx, deviceID)
	if err != nil {
		return domain.ChecklistItem{}, err
	}
	if d.Status != domain.StatusAwaitingQC {
		return domain.ChecklistItem{}, StateError{Entity: "device", ID: d.ID, Message: fmt.Sprintf("checklist re-check requires AWAITING_QC, device is %s", d.Status)}
	}
	item, ok := checklist.Lookup(d.Category, index)
	if !ok {
		return domain.ChecklistItem{}, ValidationError{Field: "index", Message: fmt.Sprintf("%d is not on the %s checklist", index, d.Category)}
	}
	pass, err := e.Repo.LatestChecklistPass(ctx, tx, d.ID)
	if err != nil {
		return domain.ChecklistItem{}, err
	}
	if pass == 0 {
		pass = 1
	}
	it := domain.ChecklistItem{
		DeviceID:  d.ID,
		Pass:      pass,
		Index:     item.Index,
		Text:      item.Text,
		Status:    status,
		Notes:     strings.TrimSpace(notes),
		CheckedBy: p.ActorID,
		Stage:     domain.StageQC,
		CheckedAt: e.stamp(),
	}
	if it.ID, err = e.Repo.InsertChecklistItem(ctx, tx, it); err != nil {
		return domain.ChecklistItem{}, err
	}
	if err := e.appendEvent(ctx, tx, "checklist.rechecked", "device", d.ID, p.ActorID, events.EventPayload{
		"index": it.Index, "status": status,
	}); err != nil {
		return domain.ChecklistItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ChecklistItem{}, err
	}
	return it, nil
}
