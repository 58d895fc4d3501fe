package payout

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/linyora/settlement/internal/apperr"
	"github.com/linyora/settlement/internal/middleware"
	"github.com/linyora/settlement/internal/money"
)

// Handler exposes payout HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a payout HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	Amount string `json:"amount"`
}

type reviewRequest struct {
	Decision string `json:"decision"`
	Notes    string `json:"notes"`
}

type requestResponse struct {
	ID                  string     `json:"id"`
	AccountID           string     `json:"account_id"`
	Amount              string     `json:"amount"`
	Status              Status     `json:"status"`
	ReviewNotes         string     `json:"review_notes,omitempty"`
	ReviewerID          string     `json:"reviewer_id,omitempty"`
	LinkedLedgerEntryID string     `json:"linked_ledger_entry_id"`
	RefundLedgerEntryID string     `json:"refund_ledger_entry_id,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	ReviewedAt          *time.Time `json:"reviewed_at,omitempty"`
}

func toResponse(r Request) requestResponse {
	return requestResponse{
		ID:                  r.ID,
		AccountID:           r.AccountID,
		Amount:              money.String(r.Amount),
		Status:              r.Status,
		ReviewNotes:         r.ReviewNotes,
		ReviewerID:          r.ReviewerID,
		LinkedLedgerEntryID: r.LinkedLedgerEntryID,
		RefundLedgerEntryID: r.RefundLedgerEntryID,
		CreatedAt:           r.CreatedAt,
		ReviewedAt:          r.ReviewedAt,
	}
}

func toResponses(items []Request) []requestResponse {
	out := make([]requestResponse, 0, len(items))
	for _, r := range items {
		out = append(out, toResponse(r))
	}
	return out
}

// Create debits the caller's available balance and opens a request.
func (h *Handler) Create(c *fiber.Ctx) error {
	actor, err := middleware.RequireActor(c)
	if err != nil {
		return err
	}
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		return apperr.Validation("%v", err)
	}
	out, err := h.service.Request(c.UserContext(), actor, amount)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toResponse(out))
}

// List returns the caller's requests.
func (h *Handler) List(c *fiber.Ctx) error {
	actor, err := middleware.RequireActor(c)
	if err != nil {
		return err
	}
	items, err := h.service.ListByAccount(c.UserContext(), actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"payout_requests": toResponses(items)})
}

func (h *Handler) Get(c *fiber.Ctx) error {
	actor, err := middleware.RequireActor(c)
	if err != nil {
		return err
	}
	out, err := h.service.Get(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toResponse(out))
}

// Pending returns the admin review queue.
func (h *Handler) Pending(c *fiber.Ctx) error {
	actor, err := middleware.RequireActor(c)
	if err != nil {
		return err
	}
	items, err := h.service.ListPending(c.UserContext(), actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"payout_requests": toResponses(items)})
}

// Review approves or rejects the request in the path.
func (h *Handler) Review(c *fiber.Ctx) error {
	actor, err := middleware.RequireActor(c)
	if err != nil {
		return err
	}
	var req reviewRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	decision, err := ParseDecision(req.Decision)
	if err != nil {
		return err
	}
	out, err := h.service.Review(c.UserContext(), actor, c.Params("id"), decision, req.Notes)
	if err != nil {
		return err
	}
	return c.JSON(toResponse(out))
}
