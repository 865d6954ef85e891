package payment

import (
	"context"
	"net/http"

	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/api"
	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/ledger"
	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/user"

	"github.com/gin-gonic/gin"
)

// Notifier is satisfied by the email service; nil disables receipts
// (tests, local runs without redis).
type Notifier interface {
	SendPurchaseReceipt(ctx context.Context, to, name string, credits int64, amountCents int64, currency string)
}

type Handler struct {
	credits  ledger.Service
	userRepo user.Repository
	notify   Notifier
}

func NewHandler(credits ledger.Service, userRepo user.Repository, notify Notifier) *Handler {
	return &Handler{credits: credits, userRepo: userRepo, notify: notify}
}

type ConfirmationResponse struct {
	Lot     *ledger.CreditLot `json:"lot"`
	Created bool              `json:"created"`
}

// @Summary      Payment confirmation webhook
// @Description  Trusted boundary: the provider's signature is verified upstream. Lot creation is idempotent per external reference, so duplicate deliveries are safe.
// @Tags         webhooks
// @Accept       json
// @Produce      json
// @Param        request body ledger.PurchaseConfirmation true "Confirmation"
// @Success      200 {object} ConfirmationResponse
// @Failure      400 {object} api.ErrorResponse
// @Router       /webhooks/payment [post]
func (h *Handler) ConfirmPayment(c *gin.Context) {
	var conf ledger.PurchaseConfirmation
	if err := c.ShouldBindJSON(&conf); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid confirmation payload"})
		return
	}
	if msg := validateConfirmation(conf); msg != "" {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: msg})
		return
	}

	lot, created, err := h.credits.GrantPurchasedLot(c.Request.Context(), conf)
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to record payment"})
		return
	}

	if created && h.notify != nil && h.userRepo != nil {
		if u, uerr := h.userRepo.FindByID(c.Request.Context(), conf.OwnerID); uerr == nil && u != nil {
			h.notify.SendPurchaseReceipt(c.Request.Context(), u.Email, u.Name, conf.CreditsGranted, conf.AmountPaidCents, conf.Currency)
		}
	}

	c.JSON(http.StatusOK, ConfirmationResponse{Lot: lot, Created: created})
}
