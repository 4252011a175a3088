package handlers

import (
  "encoding/json"
  "errors"
  "fmt"
  "net/http"
  "time"

  "github.com/gin-gonic/gin"
  "github.com/google/uuid"

  "github.com/planforge/planforge-backend/internal/generation"
  "github.com/planforge/planforge-backend/internal/requestdata"
  "github.com/planforge/planforge-backend/internal/services"
)

type PlanGenHandler struct {
  genService  services.PlanGenerationService
  rateLimiter services.RateLimiterService
}

func NewPlanGenHandler(genService services.PlanGenerationService, rateLimiter services.RateLimiterService) *PlanGenHandler {
  return &PlanGenHandler{genService: genService, rateLimiter: rateLimiter}
}

type generateRequest struct {
  Notes         string     `json:"notes"`
  SkillLevel    string     `json:"skill_level"`
  WeeklyHours   int        `json:"weekly_hours"`
  LearningStyle string     `json:"learning_style"`
  StartDate     *time.Time `json:"start_date"`
  Deadline      *time.Time `json:"deadline"`
  SourceContext string     `json:"source_context"`
  Topic         string     `json:"topic"`
}

// POST /api/plans/:id/generate
//
// Streams the attempt's event sequence as SSE. Reservation rejections are
// returned as plain JSON before any event is written; once the stream is
// open, the terminal event is the last frame.
func (h *PlanGenHandler) Generate(c *gin.Context) {
  rd := requestdata.GetRequestData(c.Request.Context())
  planID, err := uuid.Parse(c.Param("id"))
  if err != nil {
    RespondError(c, http.StatusBadRequest, "bad_request", errors.New("invalid plan id"))
    return
  }

  var req generateRequest
  if err := c.ShouldBindJSON(&req); err != nil {
    RespondError(c, http.StatusBadRequest, "bad_request", err)
    return
  }

  if h.rateLimiter != nil && !h.rateLimiter.AllowGeneration(rd.UserID) {
    RespondError(c, http.StatusTooManyRequests, "rate_limited", errors.New("too many generation requests"))
    return
  }

  raw := generation.RawInput{
    Topic:         req.Topic,
    Notes:         req.Notes,
    SkillLevel:    req.SkillLevel,
    WeeklyHours:   req.WeeklyHours,
    LearningStyle: req.LearningStyle,
    StartDate:     req.StartDate,
    Deadline:      req.Deadline,
    SourceContext: req.SourceContext,
  }

  events, err := h.genService.Start(c.Request.Context(), planID, rd.UserID, raw)
  if err != nil {
    switch {
    case errors.Is(err, services.ErrPlanNotFound):
      RespondError(c, http.StatusNotFound, "not_found", err)
    case errors.Is(err, services.ErrNotPlanOwner):
      RespondError(c, http.StatusForbidden, "forbidden", err)
    case errors.Is(err, services.ErrAttemptInProgress):
      RespondError(c, http.StatusConflict, "attempt_in_progress", err)
    case errors.Is(err, services.ErrAttemptsCapped):
      RespondError(c, http.StatusConflict, "attempts_capped", err)
    case errors.Is(err, services.ErrPlanIneligible):
      RespondError(c, http.StatusConflict, "plan_ineligible", err)
    case errors.Is(err, generation.ErrEmptyTopic):
      RespondError(c, http.StatusBadRequest, "bad_request", err)
    default:
      RespondError(c, http.StatusInternalServerError, "generation_failed", err)
    }
    return
  }

  c.Writer.Header().Set("Content-Type", "text/event-stream")
  c.Writer.Header().Set("Cache-Control", "no-cache")
  c.Writer.Header().Set("Connection", "keep-alive")
  c.Writer.Header().Set("X-Accel-Buffering", "no")

  flusher, ok := c.Writer.(http.Flusher)
  if !ok {
    RespondError(c, http.StatusInternalServerError, "streaming_unsupported", errors.New("streaming unsupported"))
    return
  }

  ctx := c.Request.Context()
  heartbeat := time.NewTicker(15 * time.Second)
  defer heartbeat.Stop()

  for {
    select {
    case <-ctx.Done():
      // The attempt keeps running server-side until the generation
      // context notices; finalization is the orchestrator's problem.
      return
    case <-heartbeat.C:
      fmt.Fprint(c.Writer, ": ping\n\n")
      flusher.Flush()
    case ev, open := <-events:
      if !open {
        return
      }
      payload, err := json.Marshal(ev)
      if err != nil {
        continue
      }
      fmt.Fprintf(c.Writer, "event: %s\n", string(ev.Type))
      fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
      flusher.Flush()
    }
  }
}
