package wallet

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/linyora/settlement/internal/ledger"
	"github.com/linyora/settlement/internal/middleware"
	"github.com/linyora/settlement/internal/money"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type entryResponse struct {
	ID                string     `json:"id"`
	Amount            string     `json:"amount"`
	Kind              string     `json:"kind"`
	Status            string     `json:"status"`
	RelatedEntityType string     `json:"related_entity_type,omitempty"`
	RelatedEntityID   string     `json:"related_entity_id,omitempty"`
	Description       string     `json:"description"`
	CreatedAt         time.Time  `json:"created_at"`
	ClearedAt         *time.Time `json:"cleared_at,omitempty"`
}

type walletResponse struct {
	AccountID        string          `json:"account_id"`
	Available        string          `json:"available"`
	PendingClearance string          `json:"pending_clearance"`
	Total            string          `json:"total"`
	Entries          []entryResponse `json:"entries"`
	Timestamp        time.Time       `json:"timestamp"`
}

// Get returns the caller's balances and recent entries. Admins may pass
// account_id to read another account.
func (h *Handler) Get(c *fiber.Ctx) error {
	actor, err := middleware.RequireActor(c)
	if err != nil {
		return err
	}
	st, err := h.service.Statement(c.UserContext(), actor, c.Query("account_id"), c.QueryInt("limit", defaultStatementLimit))
	if err != nil {
		return err
	}
	return c.JSON(walletResponse{
		AccountID:        st.Balances.AccountID,
		Available:        money.String(st.Balances.Available),
		PendingClearance: money.String(st.Balances.PendingClearance),
		Total:            money.String(st.Balances.Total()),
		Entries:          toEntries(st.Entries),
		Timestamp:        st.AsOf,
	})
}

func toEntries(entries []ledger.Entry) []entryResponse {
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			ID:                e.ID,
			Amount:            money.String(e.Amount),
			Kind:              string(e.Kind),
			Status:            string(e.Status),
			RelatedEntityType: e.RelatedEntityType,
			RelatedEntityID:   e.RelatedEntityID,
			Description:       e.Description,
			CreatedAt:         e.CreatedAt,
			ClearedAt:         e.ClearedAt,
		})
	}
	return out
}
