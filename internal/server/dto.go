package server

import (
	"refurbline/internal/domain"
	"refurbline/internal/engine"
)

// Request payloads

type RegisterDeviceRequest struct {
	Barcode   string           `json:"barcode" minLength:"1"`
	Category  domain.Category  `json:"category" enum:"LAPTOP,DESKTOP,WORKSTATION,SERVER,MONITOR,ALL_IN_ONE,TABLET"`
	Brand     string           `json:"brand,omitempty"`
	Model     string           `json:"model,omitempty"`
	Ownership domain.Ownership `json:"ownership,omitempty" enum:"OWNED,CONSIGNMENT,CUSTOMER"`
	BatchID   string           `json:"batch_id,omitempty"`
}

type InspectionRequest struct {
	Results        []engine.CheckResult `json:"results"`
	SparesRequired string               `json:"spares_required,omitempty"`
	PaintPanels    []string             `json:"paint_panels,omitempty"`
}

type TrackRequest struct {
	Instructions string   `json:"instructions,omitempty"`
	Panels       []string `json:"panels,omitempty"`
}

type SparesTextRequest struct {
	Spares string `json:"spares"`
}

type NotesRequest struct {
	Notes string `json:"notes,omitempty"`
}

type QCRequest struct {
	Passed  bool         `json:"passed"`
	Grade   domain.Grade `json:"grade,omitempty" enum:"A,B"`
	Remarks string       `json:"remarks,omitempty"`
}

type RecheckRequest struct {
	Status domain.CheckStatus `json:"status" enum:"PASS,FAIL,NOT_APPLICABLE"`
	Notes  string             `json:"notes,omitempty"`
}

type StockOutRequest struct {
	Status domain.DeviceStatus `json:"status" enum:"STOCK_OUT_SOLD,STOCK_OUT_RENTAL"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

type ReceiveStockRequest struct {
	Quantity int `json:"quantity" minimum:"1"`
}

type RackRequest struct {
	Stage    domain.RackStage `json:"stage" enum:"RECEIVED,WAITING_FOR_REPAIR,UNDER_REPAIR,AWAITING_QC,READY_FOR_DISPATCH"`
	Capacity int              `json:"capacity" minimum:"0"`
	Active   *bool            `json:"active,omitempty"`
}

type PurchaseOrderRequest struct {
	Number   string              `json:"number" minLength:"1"`
	Supplier string              `json:"supplier,omitempty"`
	Items    []ExpectedItemInput `json:"items"`
}

type ExpectedItemInput struct {
	Category domain.Category `json:"category" enum:"LAPTOP,DESKTOP,WORKSTATION,SERVER,MONITOR,ALL_IN_ONE,TABLET"`
	Brand    string          `json:"brand"`
	Model    string          `json:"model"`
	Quantity int             `json:"quantity" minimum:"1"`
}

type BatchRequest struct {
	Code            string `json:"code" minLength:"1"`
	PurchaseOrderID string `json:"purchase_order_id,omitempty"`
}

type CreateAPIKeyRequest struct {
	ActorID string   `json:"actor_id" minLength:"1"`
	Name    string   `json:"name,omitempty"`
	Roles   []string `json:"roles,omitempty"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

// Response payloads

type IDResponse struct {
	ID string `json:"id"`
}

type ClaimResponse struct {
	DeviceID    string `json:"device_id"`
	RepairJobID string `json:"repair_job_id"`
}

type APIKeyResponse struct {
	ID        string   `json:"id"`
	ActorID   string   `json:"actor_id"`
	Name      string   `json:"name,omitempty"`
	Roles     []string `json:"roles"`
	CreatedAt string   `json:"created_at"`
}

type CreatedAPIKeyResponse struct {
	APIKeyResponse
	Key string `json:"key"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Source      string   `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, Roles: nonNilSlice(k.Roles), CreatedAt: k.CreatedAt}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
