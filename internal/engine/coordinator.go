package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"refurbline/internal/domain"
	"refurbline/internal/engine/auth"
	"refurbline/internal/events"
	"refurbline/internal/notify"
	"refurbline/internal/repo"
	"refurbline/internal/spares"
)

// DispatchInput describes work on one track. Panels is only read for paint.
type DispatchInput struct {
	DeviceID     string       `json:"device_id"`
	Track        domain.Track `json:"track" enum:"display,battery,l3,paint"`
	Instructions string       `json:"instructions,omitempty"`
	Panels       []string     `json:"panels,omitempty"`
}

// ClaimForCoordination makes the caller the device's L2 coordinator. The
// first claimant wins; later ones get NotClaimableError.
func (e Engine) ClaimForCoordination(ctx context.Context, p auth.Principal, deviceID string) (string, error) {
	if err := auth.Require(p, auth.PermRepairCoord); err != nil {
		return "", err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDevice(ctx, tx, deviceID)
	if err != nil {
		return "", err
	}
	if d.Status != domain.StatusReadyForRepair && d.Status != domain.StatusWaitingForSpares {
		return "", NotClaimableError{DeviceID: d.ID, Reason: fmt.Sprintf("status is %s", d.Status)}
	}
	job, err := e.Repo.ActiveRepairJob(ctx, tx, d.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return "", NotClaimableError{DeviceID: d.ID, Reason: "no open repair job"}
	}
	if err != nil {
		return "", err
	}
	if job.L2EngineerID != nil {
		return "", NotClaimableError{DeviceID: d.ID, Reason: "already claimed by " + *job.L2EngineerID}
	}
	now := e.stamp()
	ok, err := e.Repo.ClaimRepairJob(ctx, tx, job.ID, p.ActorID, now)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", NotClaimableError{DeviceID: d.ID, Reason: "already claimed"}
	}
	if job, err = e.Repo.GetRepairJob(ctx, tx, job.ID); err != nil {
		return "", err
	}
	if err := transition(&d, &job, domain.StatusUnderRepair, now); err != nil {
		return "", err
	}
	if err := e.Repo.UpdateDevice(ctx, tx, d); err != nil {
		return "", err
	}
	if err := e.Repo.UpdateRepairJob(ctx, tx, job); err != nil {
		return "", err
	}
	if err := e.appendEvent(ctx, tx, "repair.claimed", "repair_job", job.ID, p.ActorID, events.EventPayload{"device_id": d.ID}); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	e.placeAfterCommit(ctx, d)
	return job.ID, nil
}

// coordinatedJob loads a device under coordination together with its open
// job and checks that the caller is the coordinator.
func (e Engine) coordinatedJob(ctx context.Context, tx *sql.Tx, p auth.Principal, deviceID string) (domain.Device, domain.RepairJob, error) {
	d, err := e.Repo.GetDevice(ctx, tx, deviceID)
	if err != nil {
		return domain.Device{}, domain.RepairJob{}, err
	}
	if d.Status != domain.StatusUnderRepair && d.Status != domain.StatusWaitingForSpares {
		return domain.Device{}, domain.RepairJob{}, StateError{Entity: "device", ID: d.ID, Message: fmt.Sprintf("not under coordination (status %s)", d.Status)}
	}
	job, err := e.Repo.ActiveRepairJob(ctx, tx, d.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Device{}, domain.RepairJob{}, StateError{Entity: "device", ID: d.ID, Message: "no open repair job"}
	}
	if err != nil {
		return domain.Device{}, domain.RepairJob{}, err
	}
	if job.L2EngineerID == nil {
		return domain.Device{}, domain.RepairJob{}, StateError{Entity: "repair_job", ID: job.ID, Message: "not claimed"}
	}
	if *job.L2EngineerID != p.ActorID && !p.HasRole(auth.RoleAdmin) {
		return domain.Device{}, domain.RepairJob{}, StateError{Entity: "repair_job", ID: job.ID, Message: "coordinated by " + *job.L2EngineerID}
	}
	return d, job, nil
}

// DispatchTrack sends a track to a specialist as a PENDING sub-job and marks
// the track required. A track with a sub-job still in flight is rejected.
func (e Engine) DispatchTrack(ctx context.Context, p auth.Principal, in DispatchInput) (string, error) {
	if err := auth.Require(p, auth.PermRepairCoord); err != nil {
		return "", err
	}
	if !in.Track.Valid() {
		return "", ValidationError{Field: "track", Message: "must be display, battery, l3 or paint"}
	}
	panels := cleanPanels(in.Panels)
	if in.Track == domain.TrackPaint && len(panels) == 0 {
		return "", ValidationError{Field: "panels", Message: "select at least one panel"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	d, job, err := e.coordinatedJob(ctx, tx, p, in.DeviceID)
	if err != nil {
		return "", err
	}
	existing, err := e.Repo.ListWorkJobs(ctx, tx, d.ID, in.Track)
	if err != nil {
		return "", err
	}
	for _, w := range existing {
		if w.Status.InFlight() {
			return "", StateError{Entity: "device", ID: d.ID, Message: fmt.Sprintf("%s already has a %s sub-job", in.Track, w.Status)}
		}
	}
	now := e.stamp()
	w := domain.WorkJob{
		ID:           newID(),
		DeviceID:     d.ID,
		RepairJobID:  job.ID,
		Track:        in.Track,
		Status:       domain.WorkPending,
		Instructions: strings.TrimSpace(in.Instructions),
		CreatedAt:    now,
	}
	if err := e.Repo.InsertWorkJob(ctx, tx, w); err != nil {
		return "", err
	}
	for _, name := range panels {
		if in.Track != domain.TrackPaint {
			break
		}
		if err := e.Repo.InsertPaintPanel(ctx, tx, domain.PaintPanel{
			ID: newID(), WorkJobID: w.ID, DeviceID: d.ID, Panel: name, Status: domain.PanelAwaitingPaint, UpdatedAt: now,
		}); err != nil {
			return "", err
		}
	}
	d.Tracks.Set(in.Track, domain.Flag{Required: true, Completed: false})
	d.UpdatedAt = now
	if err := e.Repo.UpdateDevice(ctx, tx, d); err != nil {
		return "", err
	}
	payload := events.EventPayload{"device_id": d.ID, "track": in.Track}
	if in.Track == domain.TrackPaint {
		payload["panels"] = panels
	}
	if err := e.appendEvent(ctx, tx, "work.dispatched", "work_job", w.ID, p.ActorID, payload); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	e.publish(ctx, notify.Event{
		Type:        notify.TypeWorkDispatched,
		DeviceID:    d.ID,
		RepairJobID: job.ID,
		Message:     fmt.Sprintf("%s dispatched for %s", in.Track.Label(), d.Barcode),
		Payload:     map[string]any{"track": in.Track, "work_job_id": w.ID},
	})
	return w.ID, nil
}

// CompleteTrackSelf records that the coordinator did the track's work
// personally. Any in-flight sub-job on the track is cancelled.
func (e Engine) CompleteTrackSelf(ctx context.Context, p auth.Principal, in DispatchInput) (string, error) {
	if err := auth.Require(p, auth.PermRepairCoord); err != nil {
		return "", err
	}
	if !in.Track.Valid() {
		return "", ValidationError{Field: "track", Message: "must be display, battery, l3 or paint"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	d, job, err := e.coordinatedJob(ctx, tx, p, in.DeviceID)
	if err != nil {
		return "", err
	}
	now := e.stamp()
	if err := e.cancelInFlight(ctx, tx, d.ID, in.Track, now); err != nil {
		return "", err
	}
	actor := p.ActorID
	w := domain.WorkJob{
		ID:            newID(),
		DeviceID:      d.ID,
		RepairJobID:   job.ID,
		Track:         in.Track,
		Status:        domain.WorkCompleted,
		TechnicianID:  &actor,
		ResultNotes:   strings.TrimSpace(in.Instructions),
		CompletedByL2: true,
		StartedAt:     &now,
		CompletedAt:   &now,
		CreatedAt:     now,
	}
	if err := e.Repo.InsertWorkJob(ctx, tx, w); err != nil {
		return "", err
	}
	if in.Track == domain.TrackPaint {
		for _, name := range cleanPanels(in.Panels) {
			if err := e.Repo.InsertPaintPanel(ctx, tx, domain.PaintPanel{
				ID: newID(), WorkJobID: w.ID, DeviceID: d.ID, Panel: name, Status: domain.PanelFitted, UpdatedAt: now,
			}); err != nil {
				return "", err
			}
		}
	}
	d.Tracks.Set(in.Track, domain.Flag{Required: true, Completed: true})
	d.UpdatedAt = now
	if err := e.Repo.UpdateDevice(ctx, tx, d); err != nil {
		return "", err
	}
	if err := e.appendEvent(ctx, tx, "work.self_completed", "work_job", w.ID, p.ActorID, events.EventPayload{
		"device_id": d.ID, "track": in.Track,
	}); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return w.ID, nil
}

// CollectTrack takes back a finished sub-job and marks the track completed.
// Paint is collectable once every panel is ready; the panels become FITTED.
func (e Engine) CollectTrack(ctx context.Context, p auth.Principal, deviceID string, track domain.Track) error {
	if err := auth.Require(p, auth.PermRepairCoord); err != nil {
		return err
	}
	if !track.Valid() {
		return ValidationError{Field: "track", Message: "must be display, battery, l3 or paint"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	d, _, err := e.coordinatedJob(ctx, tx, p, deviceID)
	if err != nil {
		return err
	}
	flag := d.Tracks.Get(track)
	if !flag.Required {
		return StateError{Entity: "device", ID: d.ID, Message: track.Label() + " was never dispatched"}
	}
	if flag.Completed {
		return StateError{Entity: "device", ID: d.ID, Message: track.Label() + " already collected"}
	}
	jobs, err := e.Repo.ListWorkJobs(ctx, tx, d.ID, track)
	if err != nil {
		return err
	}
	var w *domain.WorkJob
	for i := range jobs {
		if jobs[i].Status != domain.WorkCancelled {
			w = &jobs[i]
			break
		}
	}
	if w == nil {
		return StateError{Entity: "device", ID: d.ID, Message: track.Label() + " has no sub-job"}
	}
	now := e.stamp()
	if track == domain.TrackPaint {
		panels, err := e.Repo.ListPaintPanels(ctx, tx, w.ID)
		if err != nil {
			return err
		}
		if len(panels) == 0 {
			return StateError{Entity: "work_job", ID: w.ID, Message: "paint job has no panels"}
		}
		var waiting []string
		for _, pn := range panels {
			if !pn.Status.Collectable() {
				waiting = append(waiting, fmt.Sprintf("%s (%s)", pn.Panel, pn.Status))
			}
		}
		if len(waiting) > 0 {
			return StateError{Entity: "work_job", ID: w.ID, Message: "panels not ready: " + strings.Join(waiting, ", ")}
		}
		for _, pn := range panels {
			if pn.Status == domain.PanelFitted {
				continue
			}
			if err := e.Repo.UpdatePaintPanelStatus(ctx, tx, pn.ID, domain.PanelFitted, now); err != nil {
				return err
			}
		}
		w.Status = domain.WorkCompleted
		if w.CompletedAt == nil {
			w.CompletedAt = &now
		}
		if err := e.Repo.UpdateWorkJob(ctx, tx, *w); err != nil {
			return err
		}
	} else if w.Status != domain.WorkCompleted {
		return StateError{Entity: "work_job", ID: w.ID, Message: fmt.Sprintf("%s sub-job is %s", track, w.Status)}
	}
	d.Tracks.Set(track, domain.Flag{Required: true, Completed: true})
	d.UpdatedAt = now
	if err := e.Repo.UpdateDevice(ctx, tx, d); err != nil {
		return err
	}
	if err := e.appendEvent(ctx, tx, "work.collected", "work_job", w.ID, p.ActorID, events.EventPayload{
		"device_id": d.ID, "track": track,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// QCBlockers evaluates the readiness gate in fixed track order.
func QCBlockers(t domain.TrackFlags) []string {
	var missing []string
	for _, track := range domain.Tracks {
		if !t.Get(track).Satisfied() {
			missing = append(missing, track.Label()+" not completed")
		}
	}
	return missing
}

// SendToQC re-checks every track and, when all are satisfied, hands the
// device to QC. Nothing changes when the gate fails.
func (e Engine) SendToQC(ctx context.Context, p auth.Principal, deviceID string) error {
	if err := auth.Require(p, auth.PermRepairCoord); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	d, job, err := e.coordinatedJob(ctx, tx, p, deviceID)
	if err != nil {
		return err
	}
	if missing := QCBlockers(d.Tracks); len(missing) > 0 {
		return IncompleteParallelWorkError{DeviceID: d.ID, Missing: missing}
	}
	if job.SparesOutstanding {
		return StateError{Entity: "repair_job", ID: job.ID, Message: "spares request outstanding"}
	}
	now := e.stamp()
	if err := transition(&d, &job, domain.StatusAwaitingQC, now); err != nil {
		return err
	}
	d.RepairCompleted = true
	if err := e.Repo.UpdateDevice(ctx, tx, d); err != nil {
		return err
	}
	if err := e.Repo.UpdateRepairJob(ctx, tx, job); err != nil {
		return err
	}
	if err := e.appendEvent(ctx, tx, "repair.sent_to_qc", "device", d.ID, p.ActorID, events.EventPayload{"repair_job_id": job.ID}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.placeAfterCommit(ctx, d)
	return nil
}

// RequestMoreSpares appends to the job's spares request and parks the device
// in WAITING_FOR_SPARES. Sub-jobs keep running.
func (e Engine) RequestMoreSpares(ctx context.Context, p auth.Principal, deviceID, text string) (domain.RepairJob, error) {
	if err := auth.Require(p, auth.PermRepairCoord); err != nil {
		return domain.RepairJob{}, err
	}
	lines, err := spares.Parse(text)
	if err != nil {
		return domain.RepairJob{}, ValidationError{Field: "spares", Message: err.Error()}
	}
	if len(lines) == 0 {
		return domain.RepairJob{}, ValidationError{Field: "spares", Message: "is required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RepairJob{}, err
	}
	defer tx.Rollback()

	d, job, err := e.coordinatedJob(ctx, tx, p, deviceID)
	if err != nil {
		return domain.RepairJob{}, err
	}
	now := e.stamp()
	job.SparesRequired = append(job.SparesRequired, lines...)
	job.SparesOutstanding = true
	if err := transition(&d, &job, domain.StatusWaitingForSpares, now); err != nil {
		return domain.RepairJob{}, err
	}
	if err := e.Repo.UpdateDevice(ctx, tx, d); err != nil {
		return domain.RepairJob{}, err
	}
	if err := e.Repo.UpdateRepairJob(ctx, tx, job); err != nil {
		return domain.RepairJob{}, err
	}
	if err := e.appendEvent(ctx, tx, "spares.requested", "repair_job", job.ID, p.ActorID, events.EventPayload{
		"device_id": d.ID, "lines": spares.Format(lines),
	}); err != nil {
		return domain.RepairJob{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.RepairJob{}, err
	}
	e.placeAfterCommit(ctx, d)
	e.publish(ctx, notify.Event{
		Type:        notify.TypeSparesRequested,
		DeviceID:    d.ID,
		RepairJobID: job.ID,
		Message:     fmt.Sprintf("More spares requested for %s: %s", d.Barcode, spares.Format(lines)),
		Payload:     map[string]any{"lines": lines},
	})
	return job, nil
}

// cancelInFlight cancels pending and in-progress sub-jobs of a device. An
// empty track cancels on every track.
func (e Engine) cancelInFlight(ctx context.Context, tx *sql.Tx, deviceID string, track domain.Track, now string) error {
	jobs, err := e.Repo.ListWorkJobs(ctx, tx, deviceID, track)
	if err != nil {
		return err
	}
	for _, w := range jobs {
		if !w.Status.InFlight() {
			continue
		}
		w.Status = domain.WorkCancelled
		w.CompletedAt = &now
		if err := e.Repo.UpdateWorkJob(ctx, tx, w); err != nil {
			return err
		}
	}
	return nil
}
