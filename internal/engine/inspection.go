package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"refurbline/internal/checklist"
	"refurbline/internal/domain"
	"refurbline/internal/engine/auth"
	"refurbline/internal/events"
	"refurbline/internal/notify"
	"refurbline/internal/spares"
)

// CheckResult is the inspector's verdict on one catalog line.
type CheckResult struct {
	Index  int                `json:"index"`
	Status domain.CheckStatus `json:"status" enum:"PASS,FAIL,NOT_APPLICABLE"`
	Notes  string             `json:"notes,omitempty"`
}

type InspectionInput struct {
	DeviceID       string        `json:"device_id"`
	Results        []CheckResult `json:"results"`
	SparesRequired string        `json:"spares_required,omitempty"`
	PaintPanels    []string      `json:"paint_panels,omitempty"`
}

type RoutingResult struct {
	DeviceID    string              `json:"device_id"`
	NextStatus  domain.DeviceStatus `json:"next_status"`
	RepairJobID *string             `json:"repair_job_id,omitempty"`
}

// DecideRoute is the inspection routing rule. NOT_APPLICABLE counts as a pass.
func DecideRoute(results []CheckResult, spareLines []domain.PartLine, paintPanels []string) (domain.DeviceStatus, bool) {
	hasFailed := false
	for _, r := range results {
		if r.Status == domain.CheckFail {
			hasFailed = true
			break
		}
	}
	repairNeeded := hasFailed || len(spareLines) > 0
	paintNeeded := len(paintPanels) > 0
	if !repairNeeded && !paintNeeded {
		return domain.StatusAwaitingQC, false
	}
	if len(spareLines) > 0 {
		return domain.StatusWaitingForSpares, true
	}
	return domain.StatusReadyForRepair, true
}

// RouteAfterInspection records the checklist for a PENDING_INSPECTION device,
// decides where it goes next and opens a repair job when work is needed.
func (e Engine) RouteAfterInspection(ctx context.Context, p auth.Principal, in InspectionInput) (RoutingResult, error) {
	if err := auth.Require(p, auth.PermDeviceInspect); err != nil {
		return RoutingResult{}, err
	}
	spareLines, err := spares.Parse(in.SparesRequired)
	if err != nil {
		return RoutingResult{}, ValidationError{Field: "spares_required", Message: err.Error()}
	}
	panels := cleanPanels(in.PaintPanels)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return RoutingResult{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDevice(ctx, tx, in.DeviceID)
	if err != nil {
		return RoutingResult{}, err
	}
	if d.Status != domain.StatusPendingInspection {
		return RoutingResult{}, StateError{Entity: "device", ID: d.ID, Message: fmt.Sprintf("inspection requires PENDING_INSPECTION, device is %s", d.Status)}
	}
	catalog, err := checklist.For(d.Category)
	if err != nil {
		return RoutingResult{}, err
	}
	byIndex, err := indexResults(catalog, in.Results)
	if err != nil {
		return RoutingResult{}, err
	}
	next, openJob := DecideRoute(in.Results, spareLines, panels)

	now := e.stamp()
	pass, err := e.Repo.LatestChecklistPass(ctx, tx, d.ID)
	if err != nil {
		return RoutingResult{}, err
	}
	pass++
	var issues []domain.ReportedIssue
	notApplicable := 0
	for _, item := range catalog {
		r := byIndex[item.Index]
		if _, err := e.Repo.InsertChecklistItem(ctx, tx, domain.ChecklistItem{
			DeviceID:  d.ID,
			Pass:      pass,
			Index:     item.Index,
			Text:      item.Text,
			Status:    r.Status,
			Notes:     strings.TrimSpace(r.Notes),
			CheckedBy: p.ActorID,
			Stage:     domain.StageInspection,
			CheckedAt: now,
		}); err != nil {
			return RoutingResult{}, err
		}
		switch r.Status {
		case domain.CheckFail:
			issues = append(issues, domain.ReportedIssue{Index: item.Index, Text: item.Text, Notes: strings.TrimSpace(r.Notes)})
		case domain.CheckNotApplicable:
			notApplicable++
		}
	}

	res := RoutingResult{DeviceID: d.ID, NextStatus: next}
	var job *domain.RepairJob
	if openJob {
		tat := e.Config.TAT()
		if tat <= 0 {
			tat = 72 * time.Hour
		}
		job = &domain.RepairJob{
			ID:                     newID(),
			DeviceID:               d.ID,
			InspectionEngineerID:   p.ActorID,
			ReportedIssues:         issues,
			SparesRequired:         spareLines,
			SparesIssued:           []domain.PartLine{},
			SparesOutstanding:      len(spareLines) > 0,
			RecommendedPaintPanels: panels,
			TATDueAt:               e.now().UTC().Add(tat).Format(time.RFC3339),
			CreatedAt:              now,
		}
		d.RepairRequired = true
		d.RepairCompleted = false
	}
	if err := transition(&d, job, next, now); err != nil {
		return RoutingResult{}, err
	}
	if job != nil {
		if err := e.Repo.InsertRepairJob(ctx, tx, *job); err != nil {
			return RoutingResult{}, err
		}
		res.RepairJobID = &job.ID
	}
	if err := e.Repo.UpdateDevice(ctx, tx, d); err != nil {
		return RoutingResult{}, err
	}
	payload := events.EventPayload{
		"next_status":          next,
		"pass":                 pass,
		"failed_count":         len(issues),
		"not_applicable_count": notApplicable,
		"spares_requested":     spares.Format(spareLines),
		"paint_panels":         panels,
	}
	if job != nil {
		payload["repair_job_id"] = job.ID
	}
	if err := e.appendEvent(ctx, tx, "device.inspected", "device", d.ID, p.ActorID, payload); err != nil {
		return RoutingResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return RoutingResult{}, err
	}

	e.placeAfterCommit(ctx, d)
	if job != nil && len(spareLines) > 0 {
		e.publish(ctx, notify.Event{
			Type:        notify.TypeSparesRequested,
			DeviceID:    d.ID,
			RepairJobID: job.ID,
			Message:     fmt.Sprintf("Spares requested for %s: %s", d.Barcode, spares.Format(spareLines)),
			Payload:     map[string]any{"lines": spareLines},
		})
	}
	return res, nil
}

// indexResults checks that results cover the catalog exactly once with a
// final verdict per line.
func indexResults(catalog []checklist.Item, results []CheckResult) (map[int]CheckResult, error) {
	byIndex := make(map[int]CheckResult, len(results))
	for _, r := range results {
		if r.Index < 1 || r.Index > len(catalog) {
			return nil, ValidationError{Field: "results", Message: fmt.Sprintf("index %d is not on the checklist (1-%d)", r.Index, len(catalog))}
		}
		if _, dup := byIndex[r.Index]; dup {
			return nil, ValidationError{Field: "results", Message: fmt.Sprintf("index %d given more than once", r.Index)}
		}
		switch r.Status {
		case domain.CheckPass, domain.CheckFail, domain.CheckNotApplicable:
		default:
			return nil, ValidationError{Field: "results", Message: fmt.Sprintf("index %d has status %q; want PASS, FAIL or NOT_APPLICABLE", r.Index, r.Status)}
		}
		byIndex[r.Index] = r
	}
	var missing []string
	for _, item := range catalog {
		if _, ok := byIndex[item.Index]; !ok {
			missing = append(missing, fmt.Sprint(item.Index))
		}
	}
	if len(missing) > 0 {
		return nil, ValidationError{Field: "results", Message: "missing checklist items " + strings.Join(missing, ", ")}
	}
	return byIndex, nil
}

func cleanPanels(in []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p == "" || seen[strings.ToLower(p)] {
			continue
		}
		seen[strings.ToLower(p)] = true
		out = append(out, p)
	}
	return out
}
