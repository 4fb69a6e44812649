/*
dto.go - Data Transfer Objects for API requests/responses

PURPOSE:
  Defines the JSON structures for API communication. These are separate
  from domain types to allow API evolution independent of internal models.

NAMING CONVENTION:
  - *DTO: Response objects
  - *Request: Request bodies

JSON FIELD NAMING:
  camelCase, matching the storefront client. Money is always integer cents.

SEE ALSO:
  - handlers.go: Uses these DTOs
  - settlement/types.go: Domain types these map from
*/
package api

import (
	"time"

	"github.com/warp/payment-engine/settlement"
)

// =============================================================================
// REQUEST DTOs
// =============================================================================

type CreateOrderRequest struct {
	BuyerID  string `json:"buyerId"`
	RecipeID string `json:"recipeId"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId"`
}

// =============================================================================
// RESPONSE DTOs
// =============================================================================

type RecipeDTO struct {
	ID         string `json:"id"`
	AuthorID   string `json:"authorId"`
	Title      string `json:"title"`
	PriceCents int64  `json:"priceCents"`
}

type OrderDTO struct {
	ID              string `json:"id"`
	BuyerID         string `json:"buyerId"`
	RecipeID        string `json:"recipeId"`
	AmountCents     int64  `json:"amountCents"`
	Status          string `json:"status"`
	PaymentIntentID string `json:"paymentIntentId"`
	CreatedAt       string `json:"createdAt"`
}

// CreateOrderResponse carries the client secret the storefront needs to
// confirm the payment.
type CreateOrderResponse struct {
	Data         OrderDTO `json:"data"`
	ClientSecret string   `json:"clientSecret"`
}

// OutcomeDTO is the wire shape of a handler outcome. OK is false only for
// rejected outcomes.
type OutcomeDTO struct {
	OK      bool   `json:"ok"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
	OrderID string `json:"orderId,omitempty"`
}

type ConfirmPaymentResponse struct {
	Data           OrderDTO   `json:"data"`
	WebhookHandled OutcomeDTO `json:"webhookHandled"`
}

type LedgerEntryDTO struct {
	ID               string `json:"id"`
	OrderID          string `json:"orderId"`
	AuthorID         string `json:"authorId"`
	GrossCents       int64  `json:"grossCents"`
	PlatformFeeCents int64  `json:"platformFeeCents"`
	NetCents         int64  `json:"netCents"`
	CreatedAt        string `json:"createdAt"`
}

type ReportDTO struct {
	AuthorID         string   `json:"authorId"`
	RecipeIDs        []string `json:"recipeIds"`
	OrderCount       int      `json:"orderCount"`
	GrossCents       int64    `json:"grossCents"`
	PlatformFeeCents int64    `json:"platformFeeCents"`
	NetCents         int64    `json:"netCents"`
}

type DataResponse[T any] struct {
	Data T `json:"data"`
}

// ReconciliationRunDTO summarizes one scheduler pass.
type ReconciliationRunDTO struct {
	ID         string   `json:"id"`
	StartedAt  string   `json:"startedAt"`
	FinishedAt string   `json:"finishedAt"`
	Found      int      `json:"found"`
	Repaired   int      `json:"repaired"`
	Failed     int      `json:"failed"`
	OrderIDs   []string `json:"orderIds"`
	Error      string   `json:"error,omitempty"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toRecipeDTO(r settlement.Recipe) RecipeDTO {
	return RecipeDTO{
		ID:         string(r.ID),
		AuthorID:   string(r.AuthorID),
		Title:      r.Title,
		PriceCents: r.PriceCents,
	}
}

func toOrderDTO(o settlement.Order) OrderDTO {
	return OrderDTO{
		ID:              string(o.ID),
		BuyerID:         string(o.BuyerID),
		RecipeID:        string(o.RecipeID),
		AmountCents:     o.AmountCents,
		Status:          string(o.Status),
		PaymentIntentID: string(o.PaymentIntentID),
		CreatedAt:       o.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toOrderDTOs(orders []settlement.Order) []OrderDTO {
	dtos := make([]OrderDTO, len(orders))
	for i, o := range orders {
		dtos[i] = toOrderDTO(o)
	}
	return dtos
}

func toOutcomeDTO(o settlement.Outcome) OutcomeDTO {
	return OutcomeDTO{
		OK:      o.OK(),
		Outcome: string(o.Kind),
		Reason:  o.Reason,
		OrderID: string(o.OrderID),
	}
}

func toLedgerEntryDTO(e settlement.LedgerEntry) LedgerEntryDTO {
	return LedgerEntryDTO{
		ID:               string(e.ID),
		OrderID:          string(e.OrderID),
		AuthorID:         string(e.AuthorID),
		GrossCents:       e.GrossCents,
		PlatformFeeCents: e.PlatformFeeCents,
		NetCents:         e.NetCents,
		CreatedAt:        e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toReportDTO(r settlement.AuthorReport) ReportDTO {
	ids := make([]string, len(r.RecipeIDs))
	for i, id := range r.RecipeIDs {
		ids[i] = string(id)
	}
	return ReportDTO{
		AuthorID:         string(r.AuthorID),
		RecipeIDs:        ids,
		OrderCount:       r.OrderCount,
		GrossCents:       r.GrossCents,
		PlatformFeeCents: r.PlatformFeeCents,
		NetCents:         r.NetCents,
	}
}

func toRunDTO(run ReconciliationRun) ReconciliationRunDTO {
	ids := make([]string, len(run.OrderIDs))
	for i, id := range run.OrderIDs {
		ids[i] = string(id)
	}
	return ReconciliationRunDTO{
		ID:         run.ID,
		StartedAt:  run.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt: run.FinishedAt.UTC().Format(time.RFC3339),
		Found:      run.Found,
		Repaired:   run.Repaired,
		Failed:     run.Failed,
		OrderIDs:   ids,
		Error:      run.Error,
	}
}
