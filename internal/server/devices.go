package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"refurbline/internal/domain"
	"refurbline/internal/engine"
	"refurbline/internal/engine/auth"
	"refurbline/internal/repo"
)

type devicePath struct {
	DeviceID string `path:"device_id"`
}

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
}

func registerDevices(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-device",
		Method:        http.MethodPost,
		Path:          "/devices",
		Summary:       "Register an inward device",
		Tags:          []string{"intake"},
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body RegisterDeviceRequest `json:"body"`
	}) (*bodyOut[domain.Device], error) {
		d, err := e.RegisterDevice(ctx, caller(ctx), engine.DeviceInput{
			Barcode:   input.Body.Barcode,
			Category:  input.Body.Category,
			Brand:     input.Body.Brand,
			Model:     input.Body.Model,
			Ownership: input.Body.Ownership,
			BatchID:   input.Body.BatchID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return out(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-devices",
		Method:      http.MethodGet,
		Path:        "/devices",
		Summary:     "List devices",
		Tags:        []string{"devices"},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status"`
		BatchID  string `query:"batch_id"`
		RackID   string `query:"rack_id"`
		Category string `query:"category"`
		Barcode  string `query:"barcode"`
		Limit    int    `query:"limit" default:"100" minimum:"1" maximum:"1000"`
	}) (*bodyOut[[]domain.Device], error) {
		p := caller(ctx)
		if input.Barcode != "" {
			d, err := e.FindDevice(ctx, p, input.Barcode)
			if err != nil {
				return nil, handleError(err)
			}
			return out([]domain.Device{d}), nil
		}
		items, err := e.ListDevices(ctx, p, repo.DeviceFilters{
			Status:   domain.DeviceStatus(input.Status),
			BatchID:  input.BatchID,
			RackID:   input.RackID,
			Category: domain.Category(input.Category),
			Limit:    input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return out(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-device",
		Method:      http.MethodGet,
		Path:        "/devices/{device_id}",
		Summary:     "Get device",
		Tags:        []string{"devices"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *devicePath) (*bodyOut[domain.Device], error) {
		d, err := e.GetDevice(ctx, caller(ctx), input.DeviceID)
		if err != nil {
			return nil, handleError(err)
		}
		return out(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-inspection",
		Method:      http.MethodPost,
		Path:        "/devices/{device_id}/inspection/start",
		Summary:     "Move a received device onto the inspection bench",
		Tags:        []string{"inspection"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *devicePath) (*bodyOut[domain.Device], error) {
		d, err := e.StartInspection(ctx, caller(ctx), input.DeviceID)
		if err != nil {
			return nil, handleError(err)
		}
		return out(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "route-after-inspection",
		Method:      http.MethodPost,
		Path:        "/devices/{device_id}/inspection",
		Summary:     "Submit checklist results and route the device",
		Tags:        []string{"inspection"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DeviceID string            `path:"device_id"`
		Body     InspectionRequest `json:"body"`
	}) (*bodyOut[engine.RoutingResult], error) {
		res, err := e.RouteAfterInspection(ctx, caller(ctx), engine.InspectionInput{
			DeviceID:       input.DeviceID,
			Results:        input.Body.Results,
			SparesRequired: input.Body.SparesRequired,
			PaintPanels:    input.Body.PaintPanels,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return out(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-checklist",
		Method:      http.MethodGet,
		Path:        "/devices/{device_id}/checklist",
		Summary:     "Current checklist, or every recorded row with history=true",
		Tags:        []string{"inspection"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DeviceID string `path:"device_id"`
		History  bool   `query:"history"`
	}) (*bodyOut[[]domain.ChecklistItem], error) {
		var (
			items []domain.ChecklistItem
			err   error
		)
		if input.History {
			items, err = e.ChecklistHistory(ctx, caller(ctx), input.DeviceID)
		} else {
			items, err = e.Checklist(ctx, caller(ctx), input.DeviceID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return out(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stock-out",
		Method:      http.MethodPost,
		Path:        "/devices/{device_id}/stock-out",
		Summary:     "Release a graded device as sold or rented",
		Tags:        []string{"dispatch"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DeviceID string          `path:"device_id"`
		Body     StockOutRequest `json:"body"`
	}) (*bodyOut[domain.Device], error) {
		d, err := e.StockOut(ctx, caller(ctx), input.DeviceID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return out(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "scrap-device",
		Method:      http.MethodPost,
		Path:        "/devices/{device_id}/scrap",
		Summary:     "Scrap a device",
		Tags:        []string{"dispatch"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DeviceID string        `path:"device_id"`
		Body     ReasonRequest `json:"body"`
	}) (*bodyOut[domain.Device], error) {
		d, err := e.Scrap(ctx, caller(ctx), input.DeviceID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return out(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "place-device",
		Method:      http.MethodPost,
		Path:        "/devices/{device_id}/place",
		Summary:     "Retry rack placement for a device",
		Tags:        []string{"racks"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *devicePath) (*bodyOut[domain.Device], error) {
		if err := auth.Require(caller(ctx), auth.PermRackManage); err != nil {
			return nil, handleError(err)
		}
		d, err := e.Place(ctx, input.DeviceID)
		if err != nil {
			return nil, handleError(err)
		}
		return out(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-qc-records",
		Method:      http.MethodGet,
		Path:        "/devices/{device_id}/qc",
		Summary:     "QC history of a device",
		Tags:        []string{"qc"},
	}, func(ctx context.Context, input *devicePath) (*bodyOut[[]domain.QCRecord], error) {
		items, err := e.ListQCRecords(ctx, caller(ctx), input.DeviceID)
		if err != nil {
			return nil, handleError(err)
		}
		return out(nonNilSlice(items)), nil
	})
}
