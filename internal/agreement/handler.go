package agreement

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/linyora/settlement/internal/apperr"
	"github.com/linyora/settlement/internal/middleware"
	"github.com/linyora/settlement/internal/money"
)

// Handler exposes agreement HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds an agreement HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type initiateRequest struct {
	ProviderID     string `json:"provider_id"`
	ProductRef     string `json:"product_ref"`
	PackageTierRef string `json:"package_tier_ref"`
	Price          string `json:"price"`
}

type resolveRequest struct {
	Outcome string `json:"outcome"`
}

type agreementResponse struct {
	ID             string    `json:"id"`
	RequesterID    string    `json:"requester_id"`
	ProviderID     string    `json:"provider_id"`
	ProductRef     string    `json:"product_ref"`
	PackageTierRef string    `json:"package_tier_ref"`
	Price          string    `json:"price"`
	Status         Status    `json:"status"`
	PaymentHoldRef string    `json:"payment_hold_ref"`
	CaptureState   string    `json:"capture_state"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type transitionResponse struct {
	Agreement  agreementResponse `json:"agreement"`
	EarningID  string            `json:"earning_entry_id,omitempty"`
	NetAmount  string            `json:"net_amount,omitempty"`
	Commission string            `json:"commission,omitempty"`
	Warning    string            `json:"warning,omitempty"`
}

func toResponse(a Agreement) agreementResponse {
	return agreementResponse{
		ID:             a.ID,
		RequesterID:    a.RequesterID,
		ProviderID:     a.ProviderID,
		ProductRef:     a.ProductRef,
		PackageTierRef: a.PackageTierRef,
		Price:          money.String(a.Price),
		Status:         a.Status,
		PaymentHoldRef: a.PaymentHoldRef,
		CaptureState:   string(a.CaptureState),
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

// Initiate opens an agreement for the authenticated requester.
func (h *Handler) Initiate(c *fiber.Ctx) error {
	actor, err := middleware.RequireActor(c)
	if err != nil {
		return err
	}
	var req initiateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	price, err := money.Parse(req.Price)
	if err != nil {
		return apperr.Validation("%v", err)
	}
	a, err := h.service.Initiate(c.UserContext(), actor, InitiateInput{
		ProviderID:     req.ProviderID,
		ProductRef:     req.ProductRef,
		PackageTierRef: req.PackageTierRef,
		Price:          price,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toResponse(a))
}

// Get returns one agreement visible to the caller.
func (h *Handler) Get(c *fiber.Ctx) error {
	actor, err := middleware.RequireActor(c)
	if err != nil {
		return err
	}
	a, err := h.service.Get(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toResponse(a))
}

// List returns the caller's agreements.
func (h *Handler) List(c *fiber.Ctx) error {
	actor, err := middleware.RequireActor(c)
	if err != nil {
		return err
	}
	items, err := h.service.ListMine(c.UserContext(), actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"agreements": toResponses(items)})
}

// Transition returns a handler firing event on the agreement in the path.
func (h *Handler) Transition(event Event) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := middleware.RequireActor(c)
		if err != nil {
			return err
		}
		res, err := h.service.Transition(c.UserContext(), actor, c.Params("id"), event)
		if err != nil {
			return err
		}
		return c.JSON(toTransitionResponse(res))
	}
}

// Resolve closes a dispute with the outcome in the body.
func (h *Handler) Resolve(c *fiber.Ctx) error {
	actor, err := middleware.RequireActor(c)
	if err != nil {
		return err
	}
	var req resolveRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	outcome := Status(strings.ToUpper(strings.TrimSpace(req.Outcome)))
	res, err := h.service.Resolve(c.UserContext(), actor, c.Params("id"), outcome)
	if err != nil {
		return err
	}
	return c.JSON(toTransitionResponse(res))
}

// Reconcile retries a failed capture or cancel.
func (h *Handler) Reconcile(c *fiber.Ctx) error {
	actor, err := middleware.RequireActor(c)
	if err != nil {
		return err
	}
	a, err := h.service.Reconcile(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toResponse(a))
}

// Reconciliation lists agreements whose hold failed to resolve.
func (h *Handler) Reconciliation(c *fiber.Ctx) error {
	actor, err := middleware.RequireActor(c)
	if err != nil {
		return err
	}
	items, err := h.service.ListReconciliation(c.UserContext(), actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"agreements": toResponses(items)})
}

func toResponses(items []Agreement) []agreementResponse {
	out := make([]agreementResponse, 0, len(items))
	for _, a := range items {
		out = append(out, toResponse(a))
	}
	return out
}

func toTransitionResponse(res Result) transitionResponse {
	out := transitionResponse{Agreement: toResponse(res.Agreement)}
	if res.Earning != nil {
		out.EarningID = res.Earning.ID
		out.NetAmount = money.String(res.Earning.Amount)
	}
	if res.Agreement.Status == StatusCompleted {
		out.Commission = money.String(res.Commission)
	}
	if res.GatewayErr != nil {
		out.Warning = "payment " + string(res.Agreement.CaptureState) + ": flagged for reconciliation"
	}
	return out
}
