package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"refurbline/internal/domain"
	"refurbline/internal/engine"
	"refurbline/internal/report"
)

type batchPath struct {
	BatchID string `path:"batch_id"`
}

func registerBatches(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-purchase-order",
		Method:        http.MethodPost,
		Path:          "/purchase-orders",
		Summary:       "Create a purchase order with its expected lines",
		Tags:          []string{"intake"},
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body PurchaseOrderRequest `json:"body"`
	}) (*bodyOut[domain.PurchaseOrder], error) {
		items := make([]domain.ExpectedItem, 0, len(input.Body.Items))
		for _, it := range input.Body.Items {
			items = append(items, domain.ExpectedItem{Category: it.Category, Brand: it.Brand, Model: it.Model, Quantity: it.Quantity})
		}
		po, err := e.CreatePurchaseOrder(ctx, caller(ctx), engine.PurchaseOrderInput{
			Number:   input.Body.Number,
			Supplier: input.Body.Supplier,
			Items:    items,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return out(po), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-purchase-order",
		Method:      http.MethodGet,
		Path:        "/purchase-orders/{po_id}",
		Summary:     "Get purchase order",
		Tags:        []string{"intake"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		POID string `path:"po_id"`
	}) (*bodyOut[domain.PurchaseOrder], error) {
		po, err := e.GetPurchaseOrder(ctx, caller(ctx), input.POID)
		if err != nil {
			return nil, handleError(err)
		}
		return out(po), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-batch",
		Method:        http.MethodPost,
		Path:          "/batches",
		Summary:       "Open an inward batch",
		Tags:          []string{"intake"},
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body BatchRequest `json:"body"`
	}) (*bodyOut[domain.InwardBatch], error) {
		b, err := e.CreateBatch(ctx, caller(ctx), input.Body.Code, input.Body.PurchaseOrderID)
		if err != nil {
			return nil, handleError(err)
		}
		return out(b), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-batches",
		Method:      http.MethodGet,
		Path:        "/batches",
		Summary:     "List inward batches",
		Tags:        []string{"intake"},
	}, func(ctx context.Context, _ *struct{}) (*bodyOut[[]domain.InwardBatch], error) {
		items, err := e.ListBatches(ctx, caller(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return out(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-batch",
		Method:      http.MethodGet,
		Path:        "/batches/{batch_id}",
		Summary:     "Get inward batch",
		Tags:        []string{"intake"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *batchPath) (*bodyOut[domain.InwardBatch], error) {
		b, err := e.GetBatch(ctx, caller(ctx), input.BatchID)
		if err != nil {
			return nil, handleError(err)
		}
		return out(b), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-shipment",
		Method:      http.MethodPost,
		Path:        "/batches/{batch_id}/verify",
		Summary:     "Match received devices against the purchase order",
		Tags:        []string{"verification"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *batchPath) (*bodyOut[domain.VerificationResult], error) {
		res, err := e.VerifyShipment(ctx, caller(ctx), input.BatchID)
		if err != nil {
			return nil, handleError(err)
		}
		return out(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "override-verification",
		Method:      http.MethodPost,
		Path:        "/batches/{batch_id}/override",
		Summary:     "Skip verification with a recorded reason",
		Tags:        []string{"verification"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		BatchID string        `path:"batch_id"`
		Body    ReasonRequest `json:"body"`
	}) (*bodyOut[domain.InwardBatch], error) {
		b, err := e.OverrideVerification(ctx, caller(ctx), input.BatchID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return out(b), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verification-report",
		Method:      http.MethodGet,
		Path:        "/batches/{batch_id}/report",
		Summary:     "Stored verification result of a batch",
		Tags:        []string{"verification"},
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *batchPath) (*bodyOut[domain.VerificationResult], error) {
		b, err := e.VerificationReport(ctx, caller(ctx), input.BatchID)
		if err != nil {
			return nil, handleError(err)
		}
		return out(*b.Verification), nil
	})
}

// registerReportExport serves the xlsx workbook outside huma since the body
// is binary.
func registerReportExport(r chi.Router, basePath string, e engine.Engine) {
	r.Get(path.Join(basePath, "batches/{batch_id}/report.xlsx"), func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		p := caller(ctx)
		b, err := e.VerificationReport(ctx, p, chi.URLParam(req, "batch_id"))
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		var po *domain.PurchaseOrder
		if b.PurchaseOrderID != nil {
			got, err := e.GetPurchaseOrder(ctx, p, *b.PurchaseOrderID)
			if err != nil {
				respondStatusError(w, handleError(err))
				return
			}
			po = &got
		}
		var buf bytes.Buffer
		if err := report.WriteVerification(&buf, b, po); err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "verification-"+b.Code+".xlsx"))
		_, _ = w.Write(buf.Bytes())
	})
}
