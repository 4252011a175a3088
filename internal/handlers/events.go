package handlers

import (
  "strings"

  "github.com/gin-gonic/gin"

  "github.com/planforge/planforge-backend/internal/requestdata"
  "github.com/planforge/planforge-backend/internal/sse"
)

type EventsHandler struct {
  hub *sse.SSEHub
}

func NewEventsHandler(hub *sse.SSEHub) *EventsHandler {
  return &EventsHandler{hub: hub}
}

// GET /api/events?channels=plan:<id>,user:<id>
//
// Long-lived SSE subscription fed by the hub; lets a second session follow
// a generation it did not start.
func (h *EventsHandler) Subscribe(c *gin.Context) {
  rd := requestdata.GetRequestData(c.Request.Context())

  client := h.hub.NewSSEClient(rd.UserID)
  defer h.hub.CloseClient(client)

  h.hub.AddChannel(client, sse.UserChannel(rd.UserID))
  for _, ch := range strings.Split(c.Query("channels"), ",") {
    ch = strings.TrimSpace(ch)
    if ch != "" {
      h.hub.AddChannel(client, ch)
    }
  }

  h.hub.ServeHTTP(c.Writer, c.Request, client)
}
