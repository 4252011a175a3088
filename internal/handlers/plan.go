package handlers

import (
  "errors"
  "net/http"

  "github.com/gin-gonic/gin"
  "github.com/google/uuid"

  "github.com/planforge/planforge-backend/internal/requestdata"
  "github.com/planforge/planforge-backend/internal/services"
)

type PlanHandler struct {
  planService services.PlanService
  ledger      services.AttemptLedgerService
}

func NewPlanHandler(planService services.PlanService, ledger services.AttemptLedgerService) *PlanHandler {
  return &PlanHandler{planService: planService, ledger: ledger}
}

type createPlanRequest struct {
  Title string `json:"title"`
  Topic string `json:"topic"`
}

// POST /api/plans
func (h *PlanHandler) Create(c *gin.Context) {
  rd := requestdata.GetRequestData(c.Request.Context())
  var req createPlanRequest
  if err := c.ShouldBindJSON(&req); err != nil {
    RespondError(c, http.StatusBadRequest, "bad_request", err)
    return
  }
  plan, err := h.planService.CreatePlan(c.Request.Context(), rd.UserID, req.Title, req.Topic)
  if err != nil {
    RespondError(c, http.StatusBadRequest, "create_failed", err)
    return
  }
  c.JSON(http.StatusCreated, gin.H{"plan": plan})
}

// GET /api/plans
func (h *PlanHandler) List(c *gin.Context) {
  rd := requestdata.GetRequestData(c.Request.Context())
  plans, err := h.planService.ListPlans(c.Request.Context(), rd.UserID)
  if err != nil {
    RespondError(c, http.StatusInternalServerError, "list_failed", err)
    return
  }
  RespondOK(c, gin.H{"plans": plans})
}

// GET /api/plans/:id
func (h *PlanHandler) Get(c *gin.Context) {
  rd := requestdata.GetRequestData(c.Request.Context())
  planID, err := uuid.Parse(c.Param("id"))
  if err != nil {
    RespondError(c, http.StatusBadRequest, "bad_request", errors.New("invalid plan id"))
    return
  }
  view, err := h.planService.GetPlan(c.Request.Context(), planID, rd.UserID)
  if errors.Is(err, services.ErrPlanNotFound) {
    RespondError(c, http.StatusNotFound, "not_found", err)
    return
  }
  if errors.Is(err, services.ErrNotPlanOwner) {
    RespondError(c, http.StatusForbidden, "forbidden", err)
    return
  }
  if err != nil {
    RespondError(c, http.StatusInternalServerError, "get_failed", err)
    return
  }
  RespondOK(c, view)
}

// GET /api/plans/:id/attempts
func (h *PlanHandler) ListAttempts(c *gin.Context) {
  rd := requestdata.GetRequestData(c.Request.Context())
  planID, err := uuid.Parse(c.Param("id"))
  if err != nil {
    RespondError(c, http.StatusBadRequest, "bad_request", errors.New("invalid plan id"))
    return
  }

  // Ownership goes through the plan read path so attempts of another
  // user's plan stay invisible.
  if _, err := h.planService.GetPlan(c.Request.Context(), planID, rd.UserID); err != nil {
    if errors.Is(err, services.ErrPlanNotFound) {
      RespondError(c, http.StatusNotFound, "not_found", err)
      return
    }
    if errors.Is(err, services.ErrNotPlanOwner) {
      RespondError(c, http.StatusForbidden, "forbidden", err)
      return
    }
    RespondError(c, http.StatusInternalServerError, "get_failed", err)
    return
  }

  attempts, err := h.ledger.ListAttempts(c.Request.Context(), planID)
  if err != nil {
    RespondError(c, http.StatusInternalServerError, "list_failed", err)
    return
  }
  RespondOK(c, gin.H{"attempts": attempts, "cap": h.ledger.Cap()})
}
