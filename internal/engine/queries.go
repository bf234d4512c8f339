package engine

import (
	"context"
	"strings"

	"refurbline/internal/domain"
	"refurbline/internal/engine/auth"
	"refurbline/internal/events"
	"refurbline/internal/repo"
)

func authenticated(p auth.Principal) error {
	if p.ActorID == "" {
		return auth.ErrUnauthenticated
	}
	return nil
}

func (e Engine) GetDevice(ctx context.Context, p auth.Principal, id string) (domain.Device, error) {
	if err := authenticated(p); err != nil {
		return domain.Device{}, err
	}
	return e.Repo.GetDevice(ctx, nil, id)
}

// FindDevice resolves a scanned barcode.
func (e Engine) FindDevice(ctx context.Context, p auth.Principal, barcode string) (domain.Device, error) {
	if err := authenticated(p); err != nil {
		return domain.Device{}, err
	}
	return e.Repo.GetDeviceByBarcode(ctx, nil, barcode)
}

func (e Engine) ListDevices(ctx context.Context, p auth.Principal, f repo.DeviceFilters) ([]domain.Device, error) {
	if err := authenticated(p); err != nil {
		return nil, err
	}
	return e.Repo.ListDevices(ctx, nil, f)
}

func (e Engine) GetRepairJob(ctx context.Context, p auth.Principal, id string) (domain.RepairJob, error) {
	if err := authenticated(p); err != nil {
		return domain.RepairJob{}, err
	}
	return e.Repo.GetRepairJob(ctx, nil, id)
}

// ActiveRepairJob returns the device's open repair job, if any.
func (e Engine) ActiveRepairJob(ctx context.Context, p auth.Principal, deviceID string) (domain.RepairJob, error) {
	if err := authenticated(p); err != nil {
		return domain.RepairJob{}, err
	}
	return e.Repo.ActiveRepairJob(ctx, nil, deviceID)
}

func (e Engine) ListRepairJobs(ctx context.Context, p auth.Principal, deviceID string) ([]domain.RepairJob, error) {
	if err := authenticated(p); err != nil {
		return nil, err
	}
	return e.Repo.ListRepairJobs(ctx, nil, deviceID)
}

// ListOverdueJobs returns open repair jobs past their TAT deadline.
func (e Engine) ListOverdueJobs(ctx context.Context, p auth.Principal) ([]domain.RepairJob, error) {
	if err := auth.Require(p, auth.PermReportsView); err != nil {
		return nil, err
	}
	return e.Repo.ListOverdueRepairJobs(ctx, nil, e.stamp())
}

func (e Engine) ListWorkJobs(ctx context.Context, p auth.Principal, deviceID string, track domain.Track) ([]domain.WorkJob, error) {
	if err := authenticated(p); err != nil {
		return nil, err
	}
	return e.Repo.ListWorkJobs(ctx, nil, deviceID, track)
}

// ListOpenWorkJobs is the specialist's queue for a track; empty means all.
func (e Engine) ListOpenWorkJobs(ctx context.Context, p auth.Principal, track domain.Track) ([]domain.WorkJob, error) {
	if err := auth.Require(p, auth.PermWorkPerform); err != nil {
		return nil, err
	}
	if track != "" && !track.Valid() {
		return nil, ValidationError{Field: "track", Message: "must be display, battery, l3 or paint"}
	}
	return e.Repo.ListOpenWorkJobs(ctx, nil, track)
}

func (e Engine) ListPaintPanels(ctx context.Context, p auth.Principal, workJobID string) ([]domain.PaintPanel, error) {
	if err := authenticated(p); err != nil {
		return nil, err
	}
	return e.Repo.ListPaintPanels(ctx, nil, workJobID)
}

// Checklist returns the current pass of the device's checklist.
func (e Engine) Checklist(ctx context.Context, p auth.Principal, deviceID string) ([]domain.ChecklistItem, error) {
	if err := authenticated(p); err != nil {
		return nil, err
	}
	return e.Repo.CurrentChecklist(ctx, nil, deviceID)
}

func (e Engine) ChecklistHistory(ctx context.Context, p auth.Principal, deviceID string) ([]domain.ChecklistItem, error) {
	if err := authenticated(p); err != nil {
		return nil, err
	}
	return e.Repo.ChecklistHistory(ctx, nil, deviceID)
}

func (e Engine) ListQCRecords(ctx context.Context, p auth.Principal, deviceID string) ([]domain.QCRecord, error) {
	if err := authenticated(p); err != nil {
		return nil, err
	}
	return e.Repo.ListQCRecords(ctx, nil, deviceID)
}

func (e Engine) ListSpareParts(ctx context.Context, p auth.Principal) ([]domain.SparePart, error) {
	if err := authenticated(p); err != nil {
		return nil, err
	}
	return e.Repo.ListSpareParts(ctx, nil)
}

// ListRacks returns racks with their live occupancy.
func (e Engine) ListRacks(ctx context.Context, p auth.Principal, stage domain.RackStage) ([]domain.Rack, error) {
	if err := authenticated(p); err != nil {
		return nil, err
	}
	return e.Repo.ListRacks(ctx, nil, stage, false)
}

type RackInput struct {
	Code     string           `json:"code"`
	Stage    domain.RackStage `json:"stage"`
	Capacity int              `json:"capacity"`
	Active   bool             `json:"active"`
}

// SaveRack creates a rack or changes an existing one, keyed by code.
// Shrinking capacity never evicts current occupants.
func (e Engine) SaveRack(ctx context.Context, p auth.Principal, in RackInput) (domain.Rack, error) {
	if err := auth.Require(p, auth.PermRackManage); err != nil {
		return domain.Rack{}, err
	}
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return domain.Rack{}, ValidationError{Field: "code", Message: "is required"}
	}
	if !in.Stage.Valid() {
		return domain.Rack{}, ValidationError{Field: "stage", Message: "unknown rack stage"}
	}
	if in.Capacity < 0 {
		return domain.Rack{}, ValidationError{Field: "capacity", Message: "must not be negative"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Rack{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertRack(ctx, tx, domain.Rack{ID: newID(), Code: code, Stage: in.Stage, Capacity: in.Capacity, Active: in.Active}); err != nil {
		return domain.Rack{}, err
	}
	racks, err := e.Repo.ListRacks(ctx, tx, "", false)
	if err != nil {
		return domain.Rack{}, err
	}
	var saved domain.Rack
	for _, rk := range racks {
		if rk.Code == code {
			saved = rk
		}
	}
	if err := e.appendEvent(ctx, tx, "rack.saved", "rack", saved.ID, p.ActorID, events.EventPayload{"code": saved.Code, "stage": saved.Stage, "capacity": saved.Capacity, "active": saved.Active}); err != nil {
		return domain.Rack{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Rack{}, err
	}
	return saved, nil
}

func (e Engine) GetBatch(ctx context.Context, p auth.Principal, id string) (domain.InwardBatch, error) {
	if err := authenticated(p); err != nil {
		return domain.InwardBatch{}, err
	}
	return e.Repo.GetBatch(ctx, nil, id)
}

func (e Engine) ListBatches(ctx context.Context, p auth.Principal) ([]domain.InwardBatch, error) {
	if err := authenticated(p); err != nil {
		return nil, err
	}
	return e.Repo.ListBatches(ctx, nil)
}

func (e Engine) GetPurchaseOrder(ctx context.Context, p auth.Principal, id string) (domain.PurchaseOrder, error) {
	if err := authenticated(p); err != nil {
		return domain.PurchaseOrder{}, err
	}
	return e.Repo.GetPurchaseOrder(ctx, nil, id)
}

func (e Engine) ListEvents(ctx context.Context, p auth.Principal, f repo.EventFilters) ([]domain.Event, error) {
	if err := auth.Require(p, auth.PermReportsView); err != nil {
		return nil, err
	}
	return e.Repo.ListEvents(ctx, nil, f)
}

// Readiness is the coordinator's view of the QC gate for one device.
type Readiness struct {
	DeviceID   string              `json:"device_id"`
	Status     domain.DeviceStatus `json:"status"`
	Tracks     domain.TrackFlags   `json:"tracks"`
	ReadyForQC bool                `json:"ready_for_qc"`
	Blockers   []string            `json:"blockers"`
}

func (e Engine) Readiness(ctx context.Context, p auth.Principal, deviceID string) (Readiness, error) {
	if err := authenticated(p); err != nil {
		return Readiness{}, err
	}
	d, err := e.Repo.GetDevice(ctx, nil, deviceID)
	if err != nil {
		return Readiness{}, err
	}
	blockers := QCBlockers(d.Tracks)
	if blockers == nil {
		blockers = []string{}
	}
	return Readiness{
		DeviceID:   d.ID,
		Status:     d.Status,
		Tracks:     d.Tracks,
		ReadyForQC: len(blockers) == 0,
		Blockers:   blockers,
	}, nil
}
