package ledger

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/api"
	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/auth"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// @Summary      Current credit balance
// @Tags         credits
// @Produce      json
// @Success      200 {object} BalanceSnapshot
// @Failure      401 {object} api.ErrorResponse
// @Router       /credits/balance [get]
func (h *Handler) GetBalance(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return
	}

	snapshot, err := h.svc.GetBalance(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to load balance"})
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// @Summary      Credit transaction history
// @Tags         credits
// @Produce      json
// @Param        limit query int false "Page size" default(50)
// @Param        offset query int false "Page offset" default(0)
// @Success      200 {array} CreditTransaction
// @Failure      401 {object} api.ErrorResponse
// @Router       /credits/transactions [get]
func (h *Handler) ListTransactions(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	txs, err := h.svc.GetTransactions(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to load transactions"})
		return
	}
	if txs == nil {
		txs = []CreditTransaction{}
	}

	c.JSON(http.StatusOK, txs)
}

type AdjustRequest struct {
	OwnerID int    `json:"owner_id" binding:"required"`
	Amount  int64  `json:"amount" binding:"required"`
	Reason  string `json:"reason" binding:"required"`
}

// @Summary      Manual credit adjustment
// @Description  Positive amounts grant a synthetic lot, negative amounts deduct FIFO.
// @Tags         admin
// @Accept       json
// @Produce      json
// @Param        request body AdjustRequest true "Adjustment"
// @Success      200 {array} CreditTransaction
// @Failure      400 {object} api.ErrorResponse
// @Failure      402 {object} api.InsufficientCreditsResponse
// @Router       /admin/credits/adjust [post]
func (h *Handler) AdminAdjust(c *gin.Context) {
	adminID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return
	}

	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "owner_id, amount and reason are required"})
		return
	}

	entries, err := h.svc.AdminAdjust(c.Request.Context(), req.OwnerID, req.Amount, req.Reason, adminID)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, entries)
}

// @Summary      Balance of any user
// @Tags         admin
// @Produce      json
// @Param        userID path int true "User ID"
// @Success      200 {object} BalanceSnapshot
// @Failure      400 {object} api.ErrorResponse
// @Router       /admin/users/{userID}/balance [get]
func (h *Handler) AdminGetBalance(c *gin.Context) {
	userID, err := strconv.Atoi(c.Param("userID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid user id"})
		return
	}

	snapshot, err := h.svc.GetBalance(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to load balance"})
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// respondLedgerError maps ledger errors onto HTTP responses. Only the
// insufficient-credits case exposes detail; everything else is generic.
func respondLedgerError(c *gin.Context, err error) {
	var insufficient *InsufficientCreditsError
	if errors.As(err, &insufficient) {
		c.JSON(http.StatusPaymentRequired, api.InsufficientCreditsResponse{
			Error:     "insufficient credits",
			Required:  insufficient.Required,
			Available: insufficient.Available,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "something went wrong, please try again or contact support"})
}
