package generation

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/api"
	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/auth"
	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/ledger"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// @Summary      Generate a marketing plan
// @Description  Charges the plan cost in credits, calls the generator, refunds on failure.
// @Tags         plans
// @Accept       json
// @Produce      json
// @Param        request body PlanRequest true "Business questionnaire"
// @Success      201 {object} Generation
// @Failure      400 {object} api.ErrorResponse
// @Failure      402 {object} api.InsufficientCreditsResponse
// @Failure      502 {object} api.ErrorResponse
// @Router       /plans [post]
func (h *Handler) GeneratePlan(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return
	}

	var req PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "business_name, industry, target_audience and goals are required"})
		return
	}

	gen, err := h.svc.GeneratePlan(c.Request.Context(), userID, req)
	if err != nil {
		var insufficient *ledger.InsufficientCreditsError
		switch {
		case errors.As(err, &insufficient):
			c.JSON(http.StatusPaymentRequired, api.InsufficientCreditsResponse{
				Error:     "insufficient credits",
				Required:  insufficient.Required,
				Available: insufficient.Available,
			})
		case errors.Is(err, ErrRefundFailed):
			// Ledger detail stays internal; support will reconcile.
			c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "something went wrong, please try again or contact support"})
		default:
			c.JSON(http.StatusBadGateway, api.ErrorResponse{Error: "plan generation failed, your credits have been refunded"})
		}
		return
	}

	c.JSON(http.StatusCreated, gen)
}

// @Summary      Get a generated plan
// @Tags         plans
// @Produce      json
// @Param        planID path string true "Generation ID"
// @Success      200 {object} Generation
// @Failure      404 {object} api.ErrorResponse
// @Router       /plans/{planID} [get]
func (h *Handler) GetPlan(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return
	}

	gen, err := h.svc.GetPlan(c.Request.Context(), userID, c.Param("planID"))
	if err != nil {
		c.JSON(http.StatusNotFound, api.ErrorResponse{Error: "plan not found"})
		return
	}

	c.JSON(http.StatusOK, gen)
}

// @Summary      List my plans
// @Tags         plans
// @Produce      json
// @Param        limit query int false "Page size" default(20)
// @Param        offset query int false "Page offset" default(0)
// @Success      200 {array} Generation
// @Router       /plans [get]
func (h *Handler) ListPlans(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	gens, err := h.svc.ListPlans(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to load plans"})
		return
	}
	if gens == nil {
		gens = []Generation{}
	}

	c.JSON(http.StatusOK, gens)
}
