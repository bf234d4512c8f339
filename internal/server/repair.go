package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"refurbline/internal/domain"
	"refurbline/internal/engine"
)

type trackPath struct {
	DeviceID string       `path:"device_id"`
	Track    domain.Track `path:"track" enum:"display,battery,l3,paint"`
}

func registerRepair(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "claim-device",
		Method:      http.MethodPost,
		Path:        "/devices/{device_id}/claim",
		Summary:     "Claim a device's repair job as L2 coordinator",
		Tags:        []string{"repair"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *devicePath) (*bodyOut[ClaimResponse], error) {
		jobID, err := e.ClaimForCoordination(ctx, caller(ctx), input.DeviceID)
		if err != nil {
			return nil, handleError(err)
		}
		return out(ClaimResponse{DeviceID: input.DeviceID, RepairJobID: jobID}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "dispatch-track",
		Method:        http.MethodPost,
		Path:          "/devices/{device_id}/tracks/{track}/dispatch",
		Summary:       "Send a track to its specialist",
		Tags:          []string{"repair"},
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		DeviceID string       `path:"device_id"`
		Track    domain.Track `path:"track" enum:"display,battery,l3,paint"`
		Body     TrackRequest `json:"body" required:"false"`
	}) (*bodyOut[IDResponse], error) {
		id, err := e.DispatchTrack(ctx, caller(ctx), engine.DispatchInput{
			DeviceID:     input.DeviceID,
			Track:        input.Track,
			Instructions: input.Body.Instructions,
			Panels:       input.Body.Panels,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return out(IDResponse{ID: id}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "self-complete-track",
		Method:        http.MethodPost,
		Path:          "/devices/{device_id}/tracks/{track}/self-complete",
		Summary:       "Record a track the coordinator fixed personally",
		Tags:          []string{"repair"},
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		DeviceID string       `path:"device_id"`
		Track    domain.Track `path:"track" enum:"display,battery,l3,paint"`
		Body     TrackRequest `json:"body" required:"false"`
	}) (*bodyOut[IDResponse], error) {
		id, err := e.CompleteTrackSelf(ctx, caller(ctx), engine.DispatchInput{
			DeviceID:     input.DeviceID,
			Track:        input.Track,
			Instructions: input.Body.Instructions,
			Panels:       input.Body.Panels,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return out(IDResponse{ID: id}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "collect-track",
		Method:      http.MethodPost,
		Path:        "/devices/{device_id}/tracks/{track}/collect",
		Summary:     "Collect finished specialist work",
		Tags:        []string{"repair"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *trackPath) (*bodyOut[engine.Readiness], error) {
		p := caller(ctx)
		if err := e.CollectTrack(ctx, p, input.DeviceID, input.Track); err != nil {
			return nil, handleError(err)
		}
		r, err := e.Readiness(ctx, p, input.DeviceID)
		if err != nil {
			return nil, handleError(err)
		}
		return out(r), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-readiness",
		Method:      http.MethodGet,
		Path:        "/devices/{device_id}/readiness",
		Summary:     "Tracks still blocking QC",
		Tags:        []string{"repair"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *devicePath) (*bodyOut[engine.Readiness], error) {
		r, err := e.Readiness(ctx, caller(ctx), input.DeviceID)
		if err != nil {
			return nil, handleError(err)
		}
		return out(r), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "send-to-qc",
		Method:      http.MethodPost,
		Path:        "/devices/{device_id}/send-to-qc",
		Summary:     "Hand a repaired device to QC",
		Tags:        []string{"repair"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *devicePath) (*bodyOut[domain.Device], error) {
		p := caller(ctx)
		if err := e.SendToQC(ctx, p, input.DeviceID); err != nil {
			return nil, handleError(err)
		}
		d, err := e.GetDevice(ctx, p, input.DeviceID)
		if err != nil {
			return nil, handleError(err)
		}
		return out(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-more-spares",
		Method:      http.MethodPost,
		Path:        "/devices/{device_id}/spares/request",
		Summary:     "Ask stores for additional parts mid-repair",
		Tags:        []string{"spares"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DeviceID string            `path:"device_id"`
		Body     SparesTextRequest `json:"body"`
	}) (*bodyOut[domain.RepairJob], error) {
		job, err := e.RequestMoreSpares(ctx, caller(ctx), input.DeviceID, input.Body.Spares)
		if err != nil {
			return nil, handleError(err)
		}
		return out(job), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "submit-qc",
		Method:        http.MethodPost,
		Path:          "/devices/{device_id}/qc",
		Summary:       "Record a QC verdict",
		Tags:          []string{"qc"},
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		DeviceID string    `path:"device_id"`
		Body     QCRequest `json:"body"`
	}) (*bodyOut[domain.QCRecord], error) {
		rec, err := e.SubmitQC(ctx, caller(ctx), engine.QCInput{
			DeviceID: input.DeviceID,
			Passed:   input.Body.Passed,
			Grade:    input.Body.Grade,
			Remarks:  input.Body.Remarks,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return out(rec), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recheck-checklist-item",
		Method:      http.MethodPost,
		Path:        "/devices/{device_id}/checklist/{index}/recheck",
		Summary:     "Re-check one checklist line during QC",
		Tags:        []string{"qc"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DeviceID string         `path:"device_id"`
		Index    int            `path:"index" minimum:"1"`
		Body     RecheckRequest `json:"body"`
	}) (*bodyOut[domain.ChecklistItem], error) {
		it, err := e.RecheckChecklistItem(ctx, caller(ctx), input.DeviceID, input.Index, input.Body.Status, input.Body.Notes)
		if err != nil {
			return nil, handleError(err)
		}
		return out(it), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-repair-jobs",
		Method:      http.MethodGet,
		Path:        "/devices/{device_id}/repair-jobs",
		Summary:     "Every repair job a device has had",
		Tags:        []string{"repair"},
	}, func(ctx context.Context, input *devicePath) (*bodyOut[[]domain.RepairJob], error) {
		items, err := e.ListRepairJobs(ctx, caller(ctx), input.DeviceID)
		if err != nil {
			return nil, handleError(err)
		}
		return out(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-active-repair-job",
		Method:      http.MethodGet,
		Path:        "/devices/{device_id}/repair-jobs/active",
		Summary:     "The device's open repair job",
		Tags:        []string{"repair"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *devicePath) (*bodyOut[domain.RepairJob], error) {
		job, err := e.ActiveRepairJob(ctx, caller(ctx), input.DeviceID)
		if err != nil {
			return nil, handleError(err)
		}
		return out(job), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-overdue-repair-jobs",
		Method:      http.MethodGet,
		Path:        "/repair-jobs/overdue",
		Summary:     "Open repair jobs past their turnaround time",
		Tags:        []string{"repair"},
	}, func(ctx context.Context, _ *struct{}) (*bodyOut[[]domain.RepairJob], error) {
		items, err := e.ListOverdueJobs(ctx, caller(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return out(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-repair-job",
		Method:      http.MethodGet,
		Path:        "/repair-jobs/{job_id}",
		Summary:     "Get repair job",
		Tags:        []string{"repair"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*bodyOut[domain.RepairJob], error) {
		job, err := e.GetRepairJob(ctx, caller(ctx), input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return out(job), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "issue-spares",
		Method:      http.MethodPost,
		Path:        "/repair-jobs/{job_id}/spares/issue",
		Summary:     "Issue parts against a repair job",
		Tags:        []string{"spares"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		JobID string            `path:"job_id"`
		Body  SparesTextRequest `json:"body"`
	}) (*bodyOut[domain.RepairJob], error) {
		job, err := e.IssueSpares(ctx, caller(ctx), input.JobID, input.Body.Spares)
		if err != nil {
			return nil, handleError(err)
		}
		return out(job), nil
	})
}
