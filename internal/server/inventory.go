package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"refurbline/internal/domain"
	"refurbline/internal/engine"
)

func registerInventory(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-spare-parts",
		Method:      http.MethodGet,
		Path:        "/spare-parts",
		Summary:     "Spare parts with current stock",
		Tags:        []string{"spares"},
	}, func(ctx context.Context, _ *struct{}) (*bodyOut[[]domain.SparePart], error) {
		items, err := e.ListSpareParts(ctx, caller(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return out(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-spares",
		Method:      http.MethodPost,
		Path:        "/spare-parts/validate",
		Summary:     "Dry-run a spares request against stock",
		Tags:        []string{"spares"},
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body SparesTextRequest `json:"body"`
	}) (*bodyOut[engine.SparesValidation], error) {
		if caller(ctx).ActorID == "" {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		v, err := e.ValidateSpares(ctx, input.Body.Spares)
		if err != nil {
			return nil, handleError(err)
		}
		return out(v), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "receive-stock",
		Method:      http.MethodPost,
		Path:        "/spare-parts/{code}/receive",
		Summary:     "Book incoming stock for a part",
		Tags:        []string{"spares"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Code string              `path:"code"`
		Body ReceiveStockRequest `json:"body"`
	}) (*bodyOut[domain.SparePart], error) {
		part, err := e.ReceiveStock(ctx, caller(ctx), input.Code, input.Body.Quantity)
		if err != nil {
			return nil, handleError(err)
		}
		return out(part), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-racks",
		Method:      http.MethodGet,
		Path:        "/racks",
		Summary:     "Racks with live occupancy",
		Tags:        []string{"racks"},
	}, func(ctx context.Context, input *struct {
		Stage string `query:"stage"`
	}) (*bodyOut[[]domain.Rack], error) {
		items, err := e.ListRacks(ctx, caller(ctx), domain.RackStage(input.Stage))
		if err != nil {
			return nil, handleError(err)
		}
		return out(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-rack",
		Method:      http.MethodPut,
		Path:        "/racks/{code}",
		Summary:     "Create or change a rack",
		Tags:        []string{"racks"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Code string      `path:"code"`
		Body RackRequest `json:"body"`
	}) (*bodyOut[domain.Rack], error) {
		active := true
		if input.Body.Active != nil {
			active = *input.Body.Active
		}
		rk, err := e.SaveRack(ctx, caller(ctx), engine.RackInput{
			Code:     input.Code,
			Stage:    input.Body.Stage,
			Capacity: input.Body.Capacity,
			Active:   active,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return out(rk), nil
	})
}
