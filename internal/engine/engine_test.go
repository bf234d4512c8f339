package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"refurbline/internal/checklist"
	"refurbline/internal/config"
	"refurbline/internal/db"
	"refurbline/internal/domain"
	"refurbline/internal/engine"
	"refurbline/internal/engine/auth"
	"refurbline/internal/migrate"
	"refurbline/internal/notify"
	"refurbline/internal/repo"
)

var (
	intake    = auth.Principal{ActorID: "ivy", Roles: []string{auth.RoleIntake}}
	inspector = auth.Principal{ActorID: "ian", Roles: []string{auth.RoleInspector}}
	lee       = auth.Principal{ActorID: "lee", Roles: []string{auth.RoleL2}}
	lou       = auth.Principal{ActorID: "lou", Roles: []string{auth.RoleL2}}
	tech      = auth.Principal{ActorID: "tam", Roles: []string{auth.RoleTechnician}}
	stores    = auth.Principal{ActorID: "sam", Roles: []string{auth.RoleStores}}
	qc        = auth.Principal{ActorID: "quinn", Roles: []string{auth.RoleQC}}
	manager   = auth.Principal{ActorID: "max", Roles: []string{auth.RoleManager}}
	dispatch  = auth.Principal{ActorID: "dee", Roles: []string{auth.RoleDispatch}}
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Queue  *notify.Channel
}

func newTestEnv(t *testing.T, tweak ...func(*config.Config)) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.SpareParts = []config.PartSeed{
		{Code: "RAM-001", Name: "8GB DDR4", CurrentStock: 1},
		{Code: "SSD-002", Name: "256GB SSD", CurrentStock: 5},
		{Code: "BAT-LAT", Name: "Latitude battery", CurrentStock: 10},
	}
	for _, f := range tweak {
		f(cfg)
	}
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	queue := notify.NewChannel(256)
	eng.Notify = queue
	ctx := context.Background()
	if err := eng.Seed(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Queue: queue}
}

func results(t *testing.T, cat domain.Category, override map[int]engine.CheckResult) []engine.CheckResult {
	t.Helper()
	items, err := checklist.For(cat)
	if err != nil {
		t.Fatalf("checklist: %v", err)
	}
	out := make([]engine.CheckResult, 0, len(items))
	for _, it := range items {
		if r, ok := override[it.Index]; ok {
			r.Index = it.Index
			out = append(out, r)
			continue
		}
		out = append(out, engine.CheckResult{Index: it.Index, Status: domain.CheckPass})
	}
	return out
}

// onBench registers a laptop and starts its inspection.
func onBench(t *testing.T, env testEnv, barcode string) domain.Device {
	t.Helper()
	d, err := env.Engine.RegisterDevice(env.Ctx, intake, engine.DeviceInput{
		Barcode: barcode, Category: domain.CategoryLaptop, Brand: "Dell", Model: "Latitude7490",
	})
	if err != nil {
		t.Fatalf("register %s: %v", barcode, err)
	}
	if _, err := env.Engine.StartInspection(env.Ctx, inspector, d.ID); err != nil {
		t.Fatalf("start inspection: %v", err)
	}
	return d
}

// underRepair brings a device with one failed item to UNDER_REPAIR, claimed by lee.
func underRepair(t *testing.T, env testEnv, barcode string) domain.Device {
	t.Helper()
	d := onBench(t, env, barcode)
	if _, err := env.Engine.RouteAfterInspection(env.Ctx, inspector, engine.InspectionInput{
		DeviceID: d.ID,
		Results:  results(t, domain.CategoryLaptop, map[int]engine.CheckResult{3: {Status: domain.CheckFail, Notes: "dead pixels"}}),
	}); err != nil {
		t.Fatalf("route: %v", err)
	}
	if _, err := env.Engine.ClaimForCoordination(env.Ctx, lee, d.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	return d
}

func device(t *testing.T, env testEnv, id string) domain.Device {
	t.Helper()
	d, err := env.Engine.Repo.GetDevice(env.Ctx, nil, id)
	if err != nil {
		t.Fatalf("get device: %v", err)
	}
	return d
}

func stock(t *testing.T, env testEnv, code string) int {
	t.Helper()
	p, err := env.Engine.Repo.GetSparePartByCode(env.Ctx, nil, code)
	if err != nil {
		t.Fatalf("get part %s: %v", code, err)
	}
	return p.CurrentStock
}

func TestDecideRouteTotality(t *testing.T) {
	pass := []engine.CheckResult{{Index: 1, Status: domain.CheckPass}, {Index: 2, Status: domain.CheckNotApplicable}}
	fail := []engine.CheckResult{{Index: 1, Status: domain.CheckPass}, {Index: 2, Status: domain.CheckFail}}
	spares := []domain.PartLine{{Code: "RAM-001", Quantity: 1}}
	cases := []struct {
		name    string
		results []engine.CheckResult
		spares  []domain.PartLine
		panels  []string
		want    domain.DeviceStatus
		job     bool
	}{
		{"clean", pass, nil, nil, domain.StatusAwaitingQC, false},
		{"failed item", fail, nil, nil, domain.StatusReadyForRepair, true},
		{"spares only", pass, spares, nil, domain.StatusWaitingForSpares, true},
		{"failed with spares", fail, spares, nil, domain.StatusWaitingForSpares, true},
		{"paint only", pass, nil, []string{"lid"}, domain.StatusReadyForRepair, true},
	}
	for _, tc := range cases {
		got, job := engine.DecideRoute(tc.results, tc.spares, tc.panels)
		if got != tc.want || job != tc.job {
			t.Fatalf("%s: got %s job=%v, want %s job=%v", tc.name, got, job, tc.want, tc.job)
		}
		needsWork := len(tc.spares) > 0 || tc.results[1].Status == domain.CheckFail
		if needsWork && got == domain.StatusAwaitingQC {
			t.Fatalf("%s: routed to QC despite failures or spares", tc.name)
		}
	}
}

func TestCleanInspectionSkipsRepair(t *testing.T) {
	env := newTestEnv(t)
	d := onBench(t, env, "LAP-CLEAN")
	res, err := env.Engine.RouteAfterInspection(env.Ctx, inspector, engine.InspectionInput{
		DeviceID: d.ID,
		Results:  results(t, domain.CategoryLaptop, map[int]engine.CheckResult{11: {Status: domain.CheckNotApplicable}}),
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.NextStatus != domain.StatusAwaitingQC || res.RepairJobID != nil {
		t.Fatalf("expected AWAITING_QC without job, got %+v", res)
	}
	got := device(t, env, d.ID)
	if got.RepairRequired {
		t.Fatalf("clean device must not require repair")
	}
	if got.Location == nil || *got.Location != "QC-01" {
		t.Fatalf("expected placement in QC-01, got %v", got.Location)
	}
}

func TestBatteryFailureOpensRepairJob(t *testing.T) {
	env := newTestEnv(t)
	d := onBench(t, env, "LAP-BAT")
	res, err := env.Engine.RouteAfterInspection(env.Ctx, inspector, engine.InspectionInput{
		DeviceID: d.ID,
		Results:  results(t, domain.CategoryLaptop, map[int]engine.CheckResult{8: {Status: domain.CheckFail, Notes: "45% capacity"}}),
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.NextStatus != domain.StatusReadyForRepair || res.RepairJobID == nil {
		t.Fatalf("expected READY_FOR_REPAIR with job, got %+v", res)
	}
	job, err := env.Engine.Repo.GetRepairJob(env.Ctx, nil, *res.RepairJobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if len(job.ReportedIssues) != 1 {
		t.Fatalf("expected one issue, got %v", job.ReportedIssues)
	}
	issue := job.ReportedIssues[0].String()
	if !strings.HasPrefix(issue, "[8] ") || !strings.HasSuffix(issue, "45% capacity") {
		t.Fatalf("unexpected issue text %q", issue)
	}
	if job.Status != domain.JobReadyForRepair || job.TATDueAt != "2024-01-04T00:00:00Z" {
		t.Fatalf("unexpected job %+v", job)
	}
	got := device(t, env, d.ID)
	if !got.RepairRequired || got.Location == nil || *got.Location != "WFR-01" {
		t.Fatalf("unexpected device after routing: %+v", got)
	}
}

func TestInspectionRejectsIncompleteChecklist(t *testing.T) {
	env := newTestEnv(t)
	d := onBench(t, env, "LAP-PARTIAL")
	all := results(t, domain.CategoryLaptop, nil)
	_, err := env.Engine.RouteAfterInspection(env.Ctx, inspector, engine.InspectionInput{DeviceID: d.ID, Results: all[1:]})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := device(t, env, d.ID); got.Status != domain.StatusPendingInspection {
		t.Fatalf("device moved on a rejected inspection: %s", got.Status)
	}
	items, err := env.Engine.Repo.ChecklistHistory(env.Ctx, nil, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no checklist rows, got %d", len(items))
	}
}

func TestSparesRequestNotifies(t *testing.T) {
	env := newTestEnv(t)
	d := onBench(t, env, "LAP-SPARES")
	res, err := env.Engine.RouteAfterInspection(env.Ctx, inspector, engine.InspectionInput{
		DeviceID:       d.ID,
		Results:        results(t, domain.CategoryLaptop, nil),
		SparesRequired: "BAT-LAT x1",
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.NextStatus != domain.StatusWaitingForSpares {
		t.Fatalf("expected WAITING_FOR_SPARES, got %s", res.NextStatus)
	}
	var found bool
	for _, evt := range env.Queue.Drain() {
		if evt.Type == notify.TypeSparesRequested && evt.DeviceID == d.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected spares notification")
	}
}

func TestClaimFirstWins(t *testing.T) {
	env := newTestEnv(t)
	d := underRepair(t, env, "LAP-CLAIM")
	_, err := env.Engine.ClaimForCoordination(env.Ctx, lou, d.ID)
	var nc engine.NotClaimableError
	if !errors.As(err, &nc) {
		t.Fatalf("expected not claimable, got %v", err)
	}
	job, err := env.Engine.Repo.ActiveRepairJob(env.Ctx, nil, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if job.L2EngineerID == nil || *job.L2EngineerID != "lee" || job.StartedAt == nil {
		t.Fatalf("unexpected job after claims: %+v", job)
	}
	if got := device(t, env, d.ID); got.Status != domain.StatusUnderRepair {
		t.Fatalf("expected UNDER_REPAIR, got %s", got.Status)
	}
}

func TestClaimRequiresRepairStatus(t *testing.T) {
	env := newTestEnv(t)
	d := onBench(t, env, "LAP-EARLY")
	_, err := env.Engine.ClaimForCoordination(env.Ctx, lee, d.ID)
	var nc engine.NotClaimableError
	if !errors.As(err, &nc) {
		t.Fatalf("expected not claimable, got %v", err)
	}
}

func TestQCGateListsMissingTracks(t *testing.T) {
	env := newTestEnv(t)
	d := underRepair(t, env, "LAP-GATE")
	wid, err := env.Engine.DispatchTrack(env.Ctx, lee, engine.DispatchInput{DeviceID: d.ID, Track: domain.TrackDisplay})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	for i := 0; i < 2; i++ {
		err := env.Engine.SendToQC(env.Ctx, lee, d.ID)
		var ip engine.IncompleteParallelWorkError
		if !errors.As(err, &ip) {
			t.Fatalf("attempt %d: expected incomplete work, got %v", i, err)
		}
		if len(ip.Missing) != 1 || ip.Missing[0] != "Display repair not completed" {
			t.Fatalf("attempt %d: unexpected missing list %v", i, ip.Missing)
		}
	}
	if got := device(t, env, d.ID); got.Status != domain.StatusUnderRepair || got.RepairCompleted {
		t.Fatalf("gate failure mutated the device: %+v", got)
	}

	if _, err := env.Engine.StartWorkJob(env.Ctx, tech, wid); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := env.Engine.CollectTrack(env.Ctx, lee, d.ID, domain.TrackDisplay); err == nil {
		t.Fatalf("expected collect to fail before completion")
	}
	if _, err := env.Engine.CompleteWorkJob(env.Ctx, tech, wid, "panel replaced"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := env.Engine.CollectTrack(env.Ctx, lee, d.ID, domain.TrackDisplay); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if err := env.Engine.SendToQC(env.Ctx, lee, d.ID); err != nil {
		t.Fatalf("send to qc: %v", err)
	}
	got := device(t, env, d.ID)
	if got.Status != domain.StatusAwaitingQC || !got.RepairCompleted {
		t.Fatalf("unexpected device after send to qc: %+v", got)
	}
	job, err := env.Engine.Repo.ActiveRepairJob(env.Ctx, nil, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != domain.JobAwaitingQC {
		t.Fatalf("expected job AWAITING_QC, got %s", job.Status)
	}
}

func TestOnlyCoordinatorDrivesTracks(t *testing.T) {
	env := newTestEnv(t)
	d := underRepair(t, env, "LAP-OWNER")
	_, err := env.Engine.DispatchTrack(env.Ctx, lou, engine.DispatchInput{DeviceID: d.ID, Track: domain.TrackBattery})
	var se engine.StateError
	if !errors.As(err, &se) {
		t.Fatalf("expected state error for foreign coordinator, got %v", err)
	}
	_, err = env.Engine.DispatchTrack(env.Ctx, tech, engine.DispatchInput{DeviceID: d.ID, Track: domain.TrackBattery})
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for technician, got %v", err)
	}
}

func TestDispatchRejectsSecondInFlightJob(t *testing.T) {
	env := newTestEnv(t)
	d := underRepair(t, env, "LAP-TWICE")
	if _, err := env.Engine.DispatchTrack(env.Ctx, lee, engine.DispatchInput{DeviceID: d.ID, Track: domain.TrackL3}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if _, err := env.Engine.DispatchTrack(env.Ctx, lee, engine.DispatchInput{DeviceID: d.ID, Track: domain.TrackL3}); err == nil {
		t.Fatalf("expected second dispatch to fail")
	}
	if _, err := env.Engine.CompleteTrackSelf(env.Ctx, lee, engine.DispatchInput{DeviceID: d.ID, Track: domain.TrackL3, Instructions: "reseated hinge"}); err != nil {
		t.Fatalf("self complete: %v", err)
	}
	jobs, err := env.Engine.Repo.ListWorkJobs(env.Ctx, nil, d.ID, domain.TrackL3)
	if err != nil {
		t.Fatal(err)
	}
	var cancelled, selfDone int
	for _, w := range jobs {
		switch {
		case w.Status == domain.WorkCancelled:
			cancelled++
		case w.Status == domain.WorkCompleted && w.CompletedByL2:
			selfDone++
		}
	}
	if cancelled != 1 || selfDone != 1 {
		t.Fatalf("expected one cancelled and one self-completed job, got %+v", jobs)
	}
	if f := device(t, env, d.ID).Tracks.L3; !f.Required || !f.Completed {
		t.Fatalf("expected l3 flags set, got %+v", f)
	}
}

func TestPaintCollectWaitsForPanels(t *testing.T) {
	env := newTestEnv(t)
	d := underRepair(t, env, "LAP-PAINT")
	if _, err := env.Engine.DispatchTrack(env.Ctx, lee, engine.DispatchInput{DeviceID: d.ID, Track: domain.TrackPaint}); err == nil {
		t.Fatalf("expected paint without panels to be rejected")
	}
	wid, err := env.Engine.DispatchTrack(env.Ctx, lee, engine.DispatchInput{DeviceID: d.ID, Track: domain.TrackPaint, Panels: []string{"lid", "palmrest"}})
	if err != nil {
		t.Fatalf("dispatch paint: %v", err)
	}
	if _, err := env.Engine.StartWorkJob(env.Ctx, tech, wid); err != nil {
		t.Fatalf("start: %v", err)
	}
	panels, err := env.Engine.Repo.ListPaintPanels(env.Ctx, nil, wid)
	if err != nil || len(panels) != 2 {
		t.Fatalf("panels: %v %v", panels, err)
	}
	for i := 0; i < 2; i++ {
		if _, err := env.Engine.AdvancePanel(env.Ctx, tech, panels[0].ID); err != nil {
			t.Fatalf("advance lid: %v", err)
		}
	}
	if err := env.Engine.CollectTrack(env.Ctx, lee, d.ID, domain.TrackPaint); err == nil {
		t.Fatalf("expected collect to wait for palmrest")
	}
	for i := 0; i < 2; i++ {
		if _, err := env.Engine.AdvancePanel(env.Ctx, tech, panels[1].ID); err != nil {
			t.Fatalf("advance palmrest: %v", err)
		}
	}
	if _, err := env.Engine.AdvancePanel(env.Ctx, tech, panels[1].ID); err == nil {
		t.Fatalf("expected FITTED to be reserved for collection")
	}
	if err := env.Engine.CollectTrack(env.Ctx, lee, d.ID, domain.TrackPaint); err != nil {
		t.Fatalf("collect paint: %v", err)
	}
	panels, _ = env.Engine.Repo.ListPaintPanels(env.Ctx, nil, wid)
	for _, p := range panels {
		if p.Status != domain.PanelFitted {
			t.Fatalf("expected FITTED, got %s for %s", p.Status, p.Panel)
		}
	}
	w, err := env.Engine.Repo.GetWorkJob(env.Ctx, nil, wid)
	if err != nil || w.Status != domain.WorkCompleted {
		t.Fatalf("expected completed paint job, got %+v %v", w, err)
	}
	if f := device(t, env, d.ID).Tracks.Paint; !f.Required || !f.Completed {
		t.Fatalf("expected paint flags set, got %+v", f)
	}
}

func TestSparesValidationIsAllOrNothing(t *testing.T) {
	env := newTestEnv(t)
	v, err := env.Engine.ValidateSpares(env.Ctx, "RAM-001:2, SSD-002")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if v.Valid || len(v.Errors) != 1 || !strings.Contains(v.Errors[0], "RAM-001") {
		t.Fatalf("unexpected validation %+v", v)
	}
	if v.Errors[0] != "Insufficient stock for RAM-001: requested 2, available 1" {
		t.Fatalf("unexpected message %q", v.Errors[0])
	}

	d := onBench(t, env, "LAP-RAM")
	res, err := env.Engine.RouteAfterInspection(env.Ctx, inspector, engine.InspectionInput{
		DeviceID: d.ID, Results: results(t, domain.CategoryLaptop, nil), SparesRequired: "RAM-001:2, SSD-002",
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	_, err = env.Engine.IssueSpares(env.Ctx, stores, *res.RepairJobID, "RAM-001:2, SSD-002")
	var ise engine.InsufficientStockError
	if !errors.As(err, &ise) || ise.Code != "RAM-001" {
		t.Fatalf("expected insufficient stock for RAM-001, got %v", err)
	}
	if got := stock(t, env, "SSD-002"); got != 5 {
		t.Fatalf("SSD-002 must not be decremented, stock=%d", got)
	}
	if got := device(t, env, d.ID); got.Status != domain.StatusWaitingForSpares {
		t.Fatalf("device moved on failed issue: %s", got.Status)
	}

	v, _ = env.Engine.ValidateSpares(env.Ctx, "NOPE-1")
	if v.Valid || len(v.Errors) != 1 || v.Errors[0] != "Part NOPE-1 not found" {
		t.Fatalf("unexpected validation %+v", v)
	}
}

func TestIssueSparesReleasesJob(t *testing.T) {
	env := newTestEnv(t)
	d := onBench(t, env, "LAP-ISSUE")
	res, err := env.Engine.RouteAfterInspection(env.Ctx, inspector, engine.InspectionInput{
		DeviceID: d.ID, Results: results(t, domain.CategoryLaptop, nil), SparesRequired: "ssd-002 x2",
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	job, err := env.Engine.IssueSpares(env.Ctx, stores, *res.RepairJobID, "ssd-002 x2")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if job.SparesOutstanding || job.Status != domain.JobReadyForRepair || len(job.SparesIssued) != 1 {
		t.Fatalf("unexpected job %+v", job)
	}
	if got := stock(t, env, "SSD-002"); got != 3 {
		t.Fatalf("expected stock 3, got %d", got)
	}
	if got := device(t, env, d.ID); got.Status != domain.StatusReadyForRepair {
		t.Fatalf("expected READY_FOR_REPAIR, got %s", got.Status)
	}
}

func TestConcurrentIssueNeverOverdraws(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.SpareParts = append(c.SpareParts, config.PartSeed{Code: "CAP-10", CurrentStock: 5})
	})
	const n = 8
	jobs := make([]string, n)
	for i := range jobs {
		d := onBench(t, env, "LAP-CC-"+string(rune('A'+i)))
		res, err := env.Engine.RouteAfterInspection(env.Ctx, inspector, engine.InspectionInput{
			DeviceID: d.ID, Results: results(t, domain.CategoryLaptop, nil), SparesRequired: "CAP-10",
		})
		if err != nil {
			t.Fatalf("route %d: %v", i, err)
		}
		jobs[i] = *res.RepairJobID
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	issued := 0
	for _, id := range jobs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := env.Engine.IssueSpares(env.Ctx, stores, id, "CAP-10:1")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				issued++
				return
			}
			var ise engine.InsufficientStockError
			if !errors.As(err, &ise) {
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()
	if issued != 5 {
		t.Fatalf("expected 5 successful issues, got %d", issued)
	}
	if got := stock(t, env, "CAP-10"); got != 0 {
		t.Fatalf("expected stock 0, got %d", got)
	}
}

func TestRequestMoreSparesAppends(t *testing.T) {
	env := newTestEnv(t)
	d := onBench(t, env, "LAP-MORE")
	res, err := env.Engine.RouteAfterInspection(env.Ctx, inspector, engine.InspectionInput{
		DeviceID: d.ID, Results: results(t, domain.CategoryLaptop, nil), SparesRequired: "SSD-002",
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if _, err := env.Engine.ClaimForCoordination(env.Ctx, lee, d.ID); err != nil {
		t.Fatalf("claim while waiting: %v", err)
	}
	if _, err := env.Engine.IssueSpares(env.Ctx, stores, *res.RepairJobID, "SSD-002"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if got := device(t, env, d.ID); got.Status != domain.StatusUnderRepair {
		t.Fatalf("claimed job should return to UNDER_REPAIR, got %s", got.Status)
	}
	job, err := env.Engine.RequestMoreSpares(env.Ctx, lee, d.ID, "BAT-LAT:1")
	if err != nil {
		t.Fatalf("request more: %v", err)
	}
	if len(job.SparesRequired) != 2 || job.SparesRequired[0].Code != "SSD-002" || !job.SparesOutstanding {
		t.Fatalf("expected appended request, got %+v", job.SparesRequired)
	}
	if got := device(t, env, d.ID); got.Status != domain.StatusWaitingForSpares {
		t.Fatalf("expected WAITING_FOR_SPARES, got %s", got.Status)
	}
	if err := env.Engine.SendToQC(env.Ctx, lee, d.ID); err == nil {
		t.Fatalf("expected send to qc to fail while spares outstanding")
	}
}

func TestRackCapacityIsNeverExceeded(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Racks = []config.RackSeed{
			{Code: "RCV-A", Stage: domain.RackReceived, Capacity: 1},
			{Code: "RCV-B", Stage: domain.RackReceived, Capacity: 1},
		}
	})
	var unplaced int
	for _, bc := range []string{"R1", "R2", "R3"} {
		d, err := env.Engine.RegisterDevice(env.Ctx, intake, engine.DeviceInput{Barcode: bc, Category: domain.CategoryMonitor})
		if err != nil {
			t.Fatalf("register: %v", err)
		}
		if d.RackID == nil {
			unplaced++
		}
	}
	if unplaced != 1 {
		t.Fatalf("expected one unplaced device, got %d", unplaced)
	}
	racks, err := env.Engine.Repo.ListRacks(env.Ctx, nil, "", false)
	if err != nil {
		t.Fatal(err)
	}
	for _, rk := range racks {
		if rk.OccupantCount > rk.Capacity {
			t.Fatalf("rack %s over capacity: %d/%d", rk.Code, rk.OccupantCount, rk.Capacity)
		}
	}
	var rackEvent bool
	for _, evt := range env.Queue.Drain() {
		if evt.Type == notify.TypeRackUnplaced {
			rackEvent = true
		}
	}
	if !rackEvent {
		t.Fatalf("expected unplaced notification")
	}
}

func TestQCPassGradesAndStockOutEvicts(t *testing.T) {
	env := newTestEnv(t)
	d := onBench(t, env, "LAP-PASS")
	if _, err := env.Engine.RouteAfterInspection(env.Ctx, inspector, engine.InspectionInput{
		DeviceID: d.ID, Results: results(t, domain.CategoryLaptop, nil),
	}); err != nil {
		t.Fatalf("route: %v", err)
	}
	if _, err := env.Engine.SubmitQC(env.Ctx, qc, engine.QCInput{DeviceID: d.ID, Passed: true}); err == nil {
		t.Fatalf("expected grade to be required")
	}
	rec, err := env.Engine.SubmitQC(env.Ctx, qc, engine.QCInput{DeviceID: d.ID, Passed: true, Grade: domain.GradeA})
	if err != nil {
		t.Fatalf("qc pass: %v", err)
	}
	if len(rec.Checklist) == 0 {
		t.Fatalf("expected checklist snapshot")
	}
	got := device(t, env, d.ID)
	if got.Status != domain.StatusReadyForStock || got.Grade == nil || *got.Grade != domain.GradeA {
		t.Fatalf("unexpected device after pass: %+v", got)
	}
	if got.Location == nil || *got.Location != "DSP-01" {
		t.Fatalf("expected DSP-01, got %v", got.Location)
	}
	_, err = env.Engine.SubmitQC(env.Ctx, qc, engine.QCInput{DeviceID: d.ID, Passed: true, Grade: domain.GradeB})
	var nr engine.NotReadyForQCError
	if !errors.As(err, &nr) {
		t.Fatalf("expected not ready for qc, got %v", err)
	}
	out, err := env.Engine.StockOut(env.Ctx, dispatch, d.ID, domain.StatusStockOutSold)
	if err != nil {
		t.Fatalf("stock out: %v", err)
	}
	if out.RackID != nil || out.Status != domain.StatusStockOutSold {
		t.Fatalf("expected evicted sold device, got %+v", out)
	}
	if _, err := env.Engine.Scrap(env.Ctx, manager, d.ID, "water damage"); err == nil {
		t.Fatalf("expected terminal device to reject scrap")
	}
}

func TestQCFailReopensJob(t *testing.T) {
	env := newTestEnv(t)
	d := underRepair(t, env, "LAP-REWORK")
	if _, err := env.Engine.CompleteTrackSelf(env.Ctx, lee, engine.DispatchInput{DeviceID: d.ID, Track: domain.TrackDisplay}); err != nil {
		t.Fatalf("self complete: %v", err)
	}
	if err := env.Engine.SendToQC(env.Ctx, lee, d.ID); err != nil {
		t.Fatalf("send to qc: %v", err)
	}
	env.Queue.Drain()
	if _, err := env.Engine.RecheckChecklistItem(env.Ctx, qc, d.ID, 3, domain.CheckFail, "still lines"); err != nil {
		t.Fatalf("recheck: %v", err)
	}
	rec, err := env.Engine.SubmitQC(env.Ctx, qc, engine.QCInput{DeviceID: d.ID, Passed: false, Remarks: "display lines remain"})
	if err != nil {
		t.Fatalf("qc fail: %v", err)
	}
	if rec.RepairJobID == nil {
		t.Fatalf("expected record tied to job")
	}
	var rechecked bool
	for _, it := range rec.Checklist {
		if it.Index == 3 && it.Stage == domain.StageQC && it.Status == domain.CheckFail {
			rechecked = true
		}
	}
	if !rechecked {
		t.Fatalf("snapshot should carry the QC re-check")
	}
	got := device(t, env, d.ID)
	if got.Status != domain.StatusReadyForRepair || got.RepairCompleted {
		t.Fatalf("unexpected device after fail: %+v", got)
	}
	job, err := env.Engine.Repo.GetRepairJob(env.Ctx, nil, *rec.RepairJobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.L2EngineerID != nil || job.Status != domain.JobReadyForRepair || !strings.Contains(job.Notes, "display lines remain") {
		t.Fatalf("unexpected reopened job %+v", job)
	}
	var notified bool
	for _, evt := range env.Queue.Drain() {
		if evt.Type == notify.TypeQCFailed && evt.Recipient == "lee" {
			notified = true
		}
	}
	if !notified {
		t.Fatalf("expected previous coordinator to be notified")
	}
	if _, err := env.Engine.ClaimForCoordination(env.Ctx, lou, d.ID); err != nil {
		t.Fatalf("reopened job should be claimable: %v", err)
	}
}

func TestRecheckRequiresAwaitingQC(t *testing.T) {
	env := newTestEnv(t)
	d := onBench(t, env, "LAP-RECHECK")
	_, err := env.Engine.RecheckChecklistItem(env.Ctx, qc, d.ID, 1, domain.CheckPass, "")
	var se engine.StateError
	if !errors.As(err, &se) {
		t.Fatalf("expected state error, got %v", err)
	}
}

func TestScrapCancelsInFlightWork(t *testing.T) {
	env := newTestEnv(t)
	d := underRepair(t, env, "LAP-SCRAP")
	wid, err := env.Engine.DispatchTrack(env.Ctx, lee, engine.DispatchInput{DeviceID: d.ID, Track: domain.TrackBattery})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if _, err := env.Engine.Scrap(env.Ctx, manager, d.ID, ""); err == nil {
		t.Fatalf("expected reason to be required")
	}
	out, err := env.Engine.Scrap(env.Ctx, manager, d.ID, "board shorted")
	if err != nil {
		t.Fatalf("scrap: %v", err)
	}
	if out.Status != domain.StatusScrapped || out.RackID != nil {
		t.Fatalf("unexpected scrapped device %+v", out)
	}
	w, err := env.Engine.Repo.GetWorkJob(env.Ctx, nil, wid)
	if err != nil || w.Status != domain.WorkCancelled {
		t.Fatalf("expected cancelled work job, got %+v %v", w, err)
	}
	if _, err := env.Engine.Repo.ActiveRepairJob(env.Ctx, nil, d.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected job closed, got %v", err)
	}
}

func TestVerifyShipmentPartial(t *testing.T) {
	env := newTestEnv(t)
	po, err := env.Engine.CreatePurchaseOrder(env.Ctx, intake, engine.PurchaseOrderInput{
		Number: "PO-1",
		Items:  []domain.ExpectedItem{{Category: domain.CategoryLaptop, Brand: "Dell", Model: "Latitude7490", Quantity: 3}},
	})
	if err != nil {
		t.Fatalf("create po: %v", err)
	}
	b, err := env.Engine.CreateBatch(env.Ctx, intake, "IN-1", po.ID)
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}
	for _, in := range []engine.DeviceInput{
		{Barcode: "V1", Category: domain.CategoryLaptop, Brand: "Dell", Model: "Latitude7490", BatchID: b.ID},
		{Barcode: "V2", Category: domain.CategoryLaptop, Brand: "Dell", Model: "Latitude7490", BatchID: b.ID},
		{Barcode: "V3", Category: domain.CategoryDesktop, Brand: "HP", Model: "EliteDesk", BatchID: b.ID},
	} {
		if _, err := env.Engine.RegisterDevice(env.Ctx, intake, in); err != nil {
			t.Fatalf("register %s: %v", in.Barcode, err)
		}
	}
	res, err := env.Engine.VerifyShipment(env.Ctx, intake, b.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Status != domain.VerificationPartial || res.MatchPercentage != 66.7 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Missing) != 1 || len(res.Extra) != 1 || res.Extra[0].Model != "EliteDesk" {
		t.Fatalf("unexpected missing/extra %+v %+v", res.Missing, res.Extra)
	}
	stored, err := env.Engine.Repo.GetBatch(env.Ctx, nil, b.ID)
	if err != nil || stored.Verification == nil || stored.VerificationStatus != domain.VerificationPartial {
		t.Fatalf("expected stored result, got %+v %v", stored, err)
	}
	gotPO, _ := env.Engine.Repo.GetPurchaseOrder(env.Ctx, nil, po.ID)
	if gotPO.VerificationStatus != domain.VerificationPartial {
		t.Fatalf("expected PO mirrored, got %s", gotPO.VerificationStatus)
	}
}

func TestVerifiedBatchIsLocked(t *testing.T) {
	env := newTestEnv(t)
	po, err := env.Engine.CreatePurchaseOrder(env.Ctx, intake, engine.PurchaseOrderInput{
		Number: "PO-2",
		Items:  []domain.ExpectedItem{{Category: domain.CategoryTablet, Brand: "Apple", Model: "iPad 9", Quantity: 1}},
	})
	if err != nil {
		t.Fatal(err)
	}
	b, err := env.Engine.CreateBatch(env.Ctx, intake, "IN-2", po.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RegisterDevice(env.Ctx, intake, engine.DeviceInput{
		Barcode: "T1", Category: domain.CategoryTablet, Brand: "apple", Model: "ipad 9", BatchID: b.ID,
	}); err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.VerifyShipment(env.Ctx, intake, b.ID)
	if err != nil || res.Status != domain.VerificationVerified {
		t.Fatalf("expected verified, got %+v %v", res, err)
	}
	_, err = env.Engine.RegisterDevice(env.Ctx, intake, engine.DeviceInput{Barcode: "T2", Category: domain.CategoryTablet, BatchID: b.ID})
	if !errors.Is(err, engine.ErrBatchLocked) {
		t.Fatalf("expected locked batch, got %v", err)
	}
	if _, err := env.Engine.VerifyShipment(env.Ctx, intake, b.ID); !errors.Is(err, engine.ErrBatchLocked) {
		t.Fatalf("expected locked batch on re-verify, got %v", err)
	}
	if _, err := env.Engine.VerificationReport(env.Ctx, intake, b.ID); err != nil {
		t.Fatalf("locked batch must stay printable: %v", err)
	}
}

func TestOverrideVerification(t *testing.T) {
	env := newTestEnv(t)
	b, err := env.Engine.CreateBatch(env.Ctx, intake, "IN-3", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.VerifyShipment(env.Ctx, intake, b.ID); !errors.Is(err, engine.ErrNoPurchaseOrder) {
		t.Fatalf("expected no purchase order, got %v", err)
	}
	_, err = env.Engine.OverrideVerification(env.Ctx, intake, b.ID, "supplier paperwork lost")
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for intake, got %v", err)
	}
	_, err = env.Engine.OverrideVerification(env.Ctx, manager, b.ID, "too short")
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	got, err := env.Engine.OverrideVerification(env.Ctx, manager, b.ID, "supplier paperwork lost")
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if got.VerificationStatus != domain.VerificationSkipped || got.OverrideReason != "supplier paperwork lost" {
		t.Fatalf("unexpected batch %+v", got)
	}
}

func TestOverdueJobs(t *testing.T) {
	env := newTestEnv(t)
	underRepair(t, env, "LAP-LATE")
	jobs, err := env.Engine.ListOverdueJobs(env.Ctx, manager)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected no overdue jobs yet, got %d", len(jobs))
	}
	env.Engine.Now = func() time.Time { return time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC) }
	jobs, err = env.Engine.ListOverdueJobs(env.Ctx, manager)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected one overdue job, got %d", len(jobs))
	}
}

func TestEventsAppendedOnStateChanges(t *testing.T) {
	env := newTestEnv(t)
	d := underRepair(t, env, "LAP-EVENTS")
	evts, err := env.Engine.ListEvents(env.Ctx, manager, repo.EventFilters{EntityID: d.ID})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	types := map[string]bool{}
	for _, e := range evts {
		types[e.Type] = true
	}
	for _, want := range []string{"device.registered", "device.inspection_started", "device.inspected", "device.placed"} {
		if !types[want] {
			t.Fatalf("missing event %s in %v", want, types)
		}
	}
}

func TestRegisterDeviceValidation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.RegisterDevice(env.Ctx, intake, engine.DeviceInput{Barcode: "X", Category: "PRINTER"}); err == nil {
		t.Fatalf("expected unknown category to fail")
	}
	if _, err := env.Engine.RegisterDevice(env.Ctx, intake, engine.DeviceInput{Barcode: "DUP", Category: domain.CategoryServer}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RegisterDevice(env.Ctx, intake, engine.DeviceInput{Barcode: "DUP", Category: domain.CategoryServer}); err == nil {
		t.Fatalf("expected duplicate barcode to fail")
	}
	if _, err := env.Engine.RegisterDevice(env.Ctx, auth.Principal{}, engine.DeviceInput{Barcode: "ANON", Category: domain.CategoryServer}); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}
