package domain

import "fmt"

// DeviceStatus is the primary pipeline state of a device.
type DeviceStatus string

const (
	StatusReceived          DeviceStatus = "RECEIVED"
	StatusPendingInspection DeviceStatus = "PENDING_INSPECTION"
	StatusReadyForRepair    DeviceStatus = "READY_FOR_REPAIR"
	StatusWaitingForSpares  DeviceStatus = "WAITING_FOR_SPARES"
	StatusUnderRepair       DeviceStatus = "UNDER_REPAIR"
	StatusAwaitingQC        DeviceStatus = "AWAITING_QC"
	StatusReadyForStock     DeviceStatus = "READY_FOR_STOCK"
	StatusStockOutSold      DeviceStatus = "STOCK_OUT_SOLD"
	StatusStockOutRental    DeviceStatus = "STOCK_OUT_RENTAL"
	StatusScrapped          DeviceStatus = "SCRAPPED"
)

// Terminal reports whether the device has left the system.
func (s DeviceStatus) Terminal() bool {
	switch s {
	case StatusStockOutSold, StatusStockOutRental, StatusScrapped:
		return true
	}
	return false
}

type Category string

const (
	CategoryLaptop      Category = "LAPTOP"
	CategoryDesktop     Category = "DESKTOP"
	CategoryWorkstation Category = "WORKSTATION"
	CategoryServer      Category = "SERVER"
	CategoryMonitor     Category = "MONITOR"
	CategoryAllInOne    Category = "ALL_IN_ONE"
	CategoryTablet      Category = "TABLET"
)

// Categories lists the fixed device kinds in display order.
var Categories = []Category{
	CategoryLaptop, CategoryDesktop, CategoryWorkstation, CategoryServer,
	CategoryMonitor, CategoryAllInOne, CategoryTablet,
}

func (c Category) Valid() bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}

type Ownership string

const (
	OwnershipOwned    Ownership = "OWNED"
	OwnershipConsign  Ownership = "CONSIGNMENT"
	OwnershipCustomer Ownership = "CUSTOMER"
)

type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
)

type Device struct {
	ID              string       `json:"id"`
	Barcode         string       `json:"barcode"`
	Category        Category     `json:"category" enum:"LAPTOP,DESKTOP,WORKSTATION,SERVER,MONITOR,ALL_IN_ONE,TABLET"`
	Brand           string       `json:"brand,omitempty"`
	Model           string       `json:"model,omitempty"`
	Status          DeviceStatus `json:"status"`
	Ownership       Ownership    `json:"ownership"`
	Grade           *Grade       `json:"grade,omitempty"`
	BatchID         *string      `json:"batch_id,omitempty"`
	RackID          *string      `json:"rack_id,omitempty"`
	Location        *string      `json:"location,omitempty"`
	RepairRequired  bool         `json:"repair_required"`
	RepairCompleted bool         `json:"repair_completed"`
	Tracks          TrackFlags   `json:"tracks"`
	CreatedAt       string       `json:"created_at" format:"date-time"`
	UpdatedAt       string       `json:"updated_at" format:"date-time"`
}

// Flag is one Required/Completed pair.
type Flag struct {
	Required  bool `json:"required"`
	Completed bool `json:"completed"`
}

// Satisfied is true when the track is not required or has been completed.
func (f Flag) Satisfied() bool {
	return !f.Required || f.Completed
}

type TrackFlags struct {
	Display Flag `json:"display"`
	Battery Flag `json:"battery"`
	L3      Flag `json:"l3"`
	Paint   Flag `json:"paint"`
}

// Get returns the flag pair for a track.
func (t TrackFlags) Get(track Track) Flag {
	switch track {
	case TrackDisplay:
		return t.Display
	case TrackBattery:
		return t.Battery
	case TrackL3:
		return t.L3
	case TrackPaint:
		return t.Paint
	}
	return Flag{}
}

// Set replaces the flag pair for a track.
func (t *TrackFlags) Set(track Track, f Flag) {
	switch track {
	case TrackDisplay:
		t.Display = f
	case TrackBattery:
		t.Battery = f
	case TrackL3:
		t.L3 = f
	case TrackPaint:
		t.Paint = f
	}
}

// Track is one of the parallel sub-job kinds.
type Track string

const (
	TrackDisplay Track = "display"
	TrackBattery Track = "battery"
	TrackL3      Track = "l3"
	TrackPaint   Track = "paint"
)

// Tracks is the fixed evaluation order used by the QC readiness gate.
var Tracks = []Track{TrackDisplay, TrackBattery, TrackL3, TrackPaint}

func (t Track) Valid() bool {
	switch t {
	case TrackDisplay, TrackBattery, TrackL3, TrackPaint:
		return true
	}
	return false
}

// Label is the human name used in gate failure messages.
func (t Track) Label() string {
	switch t {
	case TrackDisplay:
		return "Display repair"
	case TrackBattery:
		return "Battery repair"
	case TrackL3:
		return "L3 repair"
	case TrackPaint:
		return "Paint job"
	}
	return string(t)
}

type JobStatus string

const (
	JobReadyForRepair   JobStatus = "READY_FOR_REPAIR"
	JobWaitingForSpares JobStatus = "WAITING_FOR_SPARES"
	JobUnderRepair      JobStatus = "UNDER_REPAIR"
	JobAwaitingQC       JobStatus = "AWAITING_QC"
	JobRepairClosed     JobStatus = "REPAIR_CLOSED"
)

// ReportedIssue is one failed checklist line carried onto a repair job.
type ReportedIssue struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
	Notes string `json:"notes,omitempty"`
}

// String renders the issue as "[index] text: notes".
func (r ReportedIssue) String() string {
	if r.Notes == "" {
		return fmt.Sprintf("[%d] %s", r.Index, r.Text)
	}
	return fmt.Sprintf("[%d] %s: %s", r.Index, r.Text, r.Notes)
}

// PartLine is a parsed spares request entry.
type PartLine struct {
	Code     string `json:"code"`
	Quantity int    `json:"quantity"`
}

type RepairJob struct {
	ID                     string          `json:"id"`
	DeviceID               string          `json:"device_id"`
	InspectionEngineerID   string          `json:"inspection_engineer_id"`
	L2EngineerID           *string         `json:"l2_engineer_id,omitempty"`
	ReportedIssues         []ReportedIssue `json:"reported_issues"`
	SparesRequired         []PartLine      `json:"spares_required"`
	SparesIssued           []PartLine      `json:"spares_issued"`
	SparesOutstanding      bool            `json:"spares_outstanding"`
	RecommendedPaintPanels []string        `json:"recommended_paint_panels"`
	Notes                  string          `json:"notes,omitempty"`
	Status                 JobStatus       `json:"status"`
	TATDueAt               string          `json:"tat_due_at" format:"date-time"`
	StartedAt              *string         `json:"started_at,omitempty" format:"date-time"`
	ClosedAt               *string         `json:"closed_at,omitempty" format:"date-time"`
	CreatedAt              string          `json:"created_at" format:"date-time"`
	UpdatedAt              string          `json:"updated_at" format:"date-time"`
}

type WorkStatus string

const (
	WorkPending    WorkStatus = "PENDING"
	WorkInProgress WorkStatus = "IN_PROGRESS"
	WorkCompleted  WorkStatus = "COMPLETED"
	WorkCancelled  WorkStatus = "CANCELLED"
)

// InFlight is true for sub-jobs that still await a specialist.
func (s WorkStatus) InFlight() bool {
	return s == WorkPending || s == WorkInProgress
}

// WorkJob is a parallel sub-job on one track.
type WorkJob struct {
	ID            string     `json:"id"`
	DeviceID      string     `json:"device_id"`
	RepairJobID   string     `json:"repair_job_id"`
	Track         Track      `json:"track" enum:"display,battery,l3,paint"`
	Status        WorkStatus `json:"status"`
	TechnicianID  *string    `json:"technician_id,omitempty"`
	Instructions  string     `json:"instructions,omitempty"`
	ResultNotes   string     `json:"result_notes,omitempty"`
	CompletedByL2 bool       `json:"completed_by_l2"`
	StartedAt     *string    `json:"started_at,omitempty" format:"date-time"`
	CompletedAt   *string    `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt     string     `json:"created_at" format:"date-time"`
}

type PanelStatus string

const (
	PanelAwaitingPaint      PanelStatus = "AWAITING_PAINT"
	PanelInPaint            PanelStatus = "IN_PAINT"
	PanelReadyForCollection PanelStatus = "READY_FOR_COLLECTION"
	PanelFitted             PanelStatus = "FITTED"
)

// Collectable is true once the paint shop is done with the panel.
func (s PanelStatus) Collectable() bool {
	return s == PanelReadyForCollection || s == PanelFitted
}

type PaintPanel struct {
	ID        string      `json:"id"`
	WorkJobID string      `json:"work_job_id"`
	DeviceID  string      `json:"device_id"`
	Panel     string      `json:"panel"`
	Status    PanelStatus `json:"status"`
	UpdatedAt string      `json:"updated_at" format:"date-time"`
}

type CheckStatus string

const (
	CheckPending       CheckStatus = "PENDING"
	CheckPass          CheckStatus = "PASS"
	CheckFail          CheckStatus = "FAIL"
	CheckNotApplicable CheckStatus = "NOT_APPLICABLE"
)

type CheckStage string

const (
	StageInspection CheckStage = "INSPECTION"
	StageQC         CheckStage = "QC"
)

type ChecklistItem struct {
	ID        int64       `json:"id"`
	DeviceID  string      `json:"device_id"`
	Pass      int         `json:"pass"`
	Index     int         `json:"index"`
	Text      string      `json:"text"`
	Status    CheckStatus `json:"status"`
	Notes     string      `json:"notes,omitempty"`
	CheckedBy string      `json:"checked_by"`
	Stage     CheckStage  `json:"stage"`
	CheckedAt string      `json:"checked_at" format:"date-time"`
}

type SparePart struct {
	ID           string `json:"id"`
	PartCode     string `json:"part_code"`
	Name         string `json:"name,omitempty"`
	CurrentStock int    `json:"current_stock"`
	MinStock     int    `json:"min_stock"`
	MaxStock     int    `json:"max_stock"`
}

// RackStage is the pipeline phase a rack is dedicated to.
type RackStage string

const (
	RackReceived         RackStage = "RECEIVED"
	RackWaitingForRepair RackStage = "WAITING_FOR_REPAIR"
	RackUnderRepair      RackStage = "UNDER_REPAIR"
	RackAwaitingQC       RackStage = "AWAITING_QC"
	RackReadyForDispatch RackStage = "READY_FOR_DISPATCH"
)

func (s RackStage) Valid() bool {
	switch s {
	case RackReceived, RackWaitingForRepair, RackUnderRepair, RackAwaitingQC, RackReadyForDispatch:
		return true
	}
	return false
}

type Rack struct {
	ID            string    `json:"id"`
	Code          string    `json:"code"`
	Stage         RackStage `json:"stage"`
	Capacity      int       `json:"capacity"`
	Active        bool      `json:"active"`
	OccupantCount int       `json:"occupant_count"`
}

type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "UNVERIFIED"
	VerificationVerified   VerificationStatus = "VERIFIED"
	VerificationPartial    VerificationStatus = "PARTIAL"
	VerificationSkipped    VerificationStatus = "SKIPPED"
)

type InwardBatch struct {
	ID                 string              `json:"id"`
	Code               string              `json:"code"`
	PurchaseOrderID    *string             `json:"purchase_order_id,omitempty"`
	VerificationStatus VerificationStatus  `json:"verification_status"`
	Verification       *VerificationResult `json:"verification,omitempty"`
	OverrideReason     string              `json:"override_reason,omitempty"`
	VerifiedBy         *string             `json:"verified_by,omitempty"`
	VerifiedAt         *string             `json:"verified_at,omitempty" format:"date-time"`
	CreatedAt          string              `json:"created_at" format:"date-time"`
}

// Locked reports whether the batch is read-only.
func (b InwardBatch) Locked() bool {
	return b.VerificationStatus == VerificationVerified
}

type PurchaseOrder struct {
	ID                 string             `json:"id"`
	Number             string             `json:"number"`
	Supplier           string             `json:"supplier,omitempty"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	Items              []ExpectedItem     `json:"items"`
	CreatedAt          string             `json:"created_at" format:"date-time"`
}

type ExpectedItem struct {
	ID       int64    `json:"id"`
	Category Category `json:"category"`
	Brand    string   `json:"brand"`
	Model    string   `json:"model"`
	Quantity int      `json:"quantity"`
}

// MatchedUnit pairs one received device with the expected line it satisfied.
type MatchedUnit struct {
	DeviceID string   `json:"device_id"`
	Barcode  string   `json:"barcode"`
	Category Category `json:"category"`
	Brand    string   `json:"brand"`
	Model    string   `json:"model"`
}

// MissingUnit is one expected unit that did not arrive.
type MissingUnit struct {
	Category Category `json:"category"`
	Brand    string   `json:"brand"`
	Model    string   `json:"model"`
}

type VerificationResult struct {
	Status          VerificationStatus `json:"status"`
	MatchPercentage float64            `json:"match_percentage"`
	TotalExpected   int                `json:"total_expected"`
	TotalReceived   int                `json:"total_received"`
	Matched         []MatchedUnit      `json:"matched"`
	Missing         []MissingUnit      `json:"missing"`
	Extra           []MatchedUnit      `json:"extra"`
	Discrepancies   []string           `json:"discrepancies"`
}

type QCRecord struct {
	ID          string          `json:"id"`
	DeviceID    string          `json:"device_id"`
	RepairJobID *string         `json:"repair_job_id,omitempty"`
	Passed      bool            `json:"passed"`
	Grade       *Grade          `json:"grade,omitempty"`
	Remarks     string          `json:"remarks,omitempty"`
	Checklist   []ChecklistItem `json:"checklist"`
	InspectorID string          `json:"inspector_id"`
	CreatedAt   string          `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string   `json:"id"`
	ActorID   string   `json:"actor_id"`
	Name      string   `json:"name,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	KeyHash   string   `json:"key_hash"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}
