package services

import (
  "context"

  "github.com/planforge/planforge-backend/internal/sse"
)

type SSEEmitter interface {
  Emit(ctx context.Context, msg sse.SSEMessage)
}

type HubEmitter struct{ Hub *sse.SSEHub }

func (e *HubEmitter) Emit(ctx context.Context, msg sse.SSEMessage) {
  e.Hub.Broadcast(msg)
}

type BusEmitter struct{ Bus SSEBus }

func (e *BusEmitter) Emit(ctx context.Context, msg sse.SSEMessage) {
  _ = e.Bus.Publish(ctx, msg)
}

// FanoutEmitter delivers to every configured emitter; used to hit the local
// hub and the redis bus in one call.
type FanoutEmitter struct{ Emitters []SSEEmitter }

func (e *FanoutEmitter) Emit(ctx context.Context, msg sse.SSEMessage) {
  for _, em := range e.Emitters {
    if em != nil {
      em.Emit(ctx, msg)
    }
  }
}
