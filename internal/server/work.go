package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"refurbline/internal/domain"
	"refurbline/internal/engine"
)

type workJobPath struct {
	WorkJobID string `path:"work_job_id"`
}

func registerWork(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-device-work-jobs",
		Method:      http.MethodGet,
		Path:        "/devices/{device_id}/work-jobs",
		Summary:     "Sub-jobs of a device, optionally for one track",
		Tags:        []string{"work"},
	}, func(ctx context.Context, input *struct {
		DeviceID string `path:"device_id"`
		Track    string `query:"track" enum:"display,battery,l3,paint"`
	}) (*bodyOut[[]domain.WorkJob], error) {
		items, err := e.ListWorkJobs(ctx, caller(ctx), input.DeviceID, domain.Track(input.Track))
		if err != nil {
			return nil, handleError(err)
		}
		return out(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-open-work-jobs",
		Method:      http.MethodGet,
		Path:        "/work-jobs",
		Summary:     "Specialist queue: pending and in-progress sub-jobs",
		Tags:        []string{"work"},
	}, func(ctx context.Context, input *struct {
		Track string `query:"track" enum:"display,battery,l3,paint"`
	}) (*bodyOut[[]domain.WorkJob], error) {
		items, err := e.ListOpenWorkJobs(ctx, caller(ctx), domain.Track(input.Track))
		if err != nil {
			return nil, handleError(err)
		}
		return out(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-work-job",
		Method:      http.MethodPost,
		Path:        "/work-jobs/{work_job_id}/start",
		Summary:     "Take a pending sub-job",
		Tags:        []string{"work"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *workJobPath) (*bodyOut[domain.WorkJob], error) {
		w, err := e.StartWorkJob(ctx, caller(ctx), input.WorkJobID)
		if err != nil {
			return nil, handleError(err)
		}
		return out(w), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-work-job",
		Method:      http.MethodPost,
		Path:        "/work-jobs/{work_job_id}/complete",
		Summary:     "Finish a non-paint sub-job",
		Tags:        []string{"work"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		WorkJobID string       `path:"work_job_id"`
		Body      NotesRequest `json:"body" required:"false"`
	}) (*bodyOut[domain.WorkJob], error) {
		w, err := e.CompleteWorkJob(ctx, caller(ctx), input.WorkJobID, input.Body.Notes)
		if err != nil {
			return nil, handleError(err)
		}
		return out(w), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-paint-panels",
		Method:      http.MethodGet,
		Path:        "/work-jobs/{work_job_id}/panels",
		Summary:     "Panels of a paint sub-job",
		Tags:        []string{"paint"},
	}, func(ctx context.Context, input *workJobPath) (*bodyOut[[]domain.PaintPanel], error) {
		items, err := e.ListPaintPanels(ctx, caller(ctx), input.WorkJobID)
		if err != nil {
			return nil, handleError(err)
		}
		return out(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-paint-panel",
		Method:      http.MethodPost,
		Path:        "/paint-panels/{panel_id}/advance",
		Summary:     "Move a panel one step through the paint shop",
		Tags:        []string{"paint"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		PanelID string `path:"panel_id"`
	}) (*bodyOut[domain.PaintPanel], error) {
		pn, err := e.AdvancePanel(ctx, caller(ctx), input.PanelID)
		if err != nil {
			return nil, handleError(err)
		}
		return out(pn), nil
	})
}
