package services

import (
  "context"
  "errors"
  "time"

  "github.com/google/uuid"

  "github.com/planforge/planforge-backend/internal/failure"
  "github.com/planforge/planforge-backend/internal/generation"
  "github.com/planforge/planforge-backend/internal/logger"
  "github.com/planforge/planforge-backend/internal/provider"
  "github.com/planforge/planforge-backend/internal/sse"
)

// Generator abstracts the provider router so tests can script backends.
type Generator interface {
  Generate(ctx context.Context, req provider.Request) (*provider.Stream, error)
}

// PlanGenerationService drives one generation attempt end to end:
// reserve, stream from a backend, parse, finalize, and emit an ordered
// event stream to the caller. Reservation errors (cap reached, attempt in
// progress, ownership) are returned synchronously from Start; everything
// after the reservation is reported through the event channel, which always
// ends with exactly one terminal event.
type PlanGenerationService interface {
  Start(ctx context.Context, planID, userID uuid.UUID, raw generation.RawInput) (<-chan generation.Event, error)
}

type planGenerationService struct {
  log     *logger.Logger
  ledger  AttemptLedgerService
  gen     Generator
  limits  generation.Limits
  emitter SSEEmitter

  // finalizeTimeout bounds the post-cancellation bookkeeping writes.
  finalizeTimeout time.Duration
}

func NewPlanGenerationService(
  baseLog *logger.Logger,
  ledger AttemptLedgerService,
  gen Generator,
  limits generation.Limits,
  emitter SSEEmitter,
) PlanGenerationService {
  if limits.MaxBufferBytes <= 0 {
    limits = generation.DefaultLimits()
  }
  return &planGenerationService{
    log:             baseLog.With("service", "PlanGenerationService"),
    ledger:          ledger,
    gen:             gen,
    limits:          limits,
    emitter:         emitter,
    finalizeTimeout: 10 * time.Second,
  }
}

func (s *planGenerationService) Start(ctx context.Context, planID, userID uuid.UUID, raw generation.RawInput) (<-chan generation.Event, error) {
  res, err := s.ledger.Reserve(ctx, planID, userID, raw)
  if err != nil {
    return nil, err
  }

  events := make(chan generation.Event, 64)
  go s.run(ctx, res, events)
  return events, nil
}

func (s *planGenerationService) run(ctx context.Context, res *Reservation, events chan<- generation.Event) {
  defer close(events)

  // Own the stream's lifetime: when run returns early (parse failure,
  // finalize failure) the backend request is torn down instead of leaking
  // until the caller's context ends.
  ctx, cancel := context.WithCancel(ctx)
  defer cancel()

  log := s.log.With("plan_id", res.PlanID.String(), "attempt_id", res.AttemptID.String(), "seq", res.Seq)
  log.Info("generation attempt started")

  s.emit(ctx, events, generation.Event{
    Type:       generation.EventPlanStart,
    PlanID:     res.PlanID,
    AttemptSeq: res.Seq,
  })

  req := provider.Request{
    Messages:    generation.BuildMessages(res.Input),
    Temperature: 0.2,
    Schema:      generation.PlanSchema(),
  }

  meta := FinalizeMeta{}
  stream, err := s.gen.Generate(ctx, req)
  if err != nil {
    s.fail(ctx, res, events, err, meta, log)
    return
  }
  meta.Provider = stream.Metadata.Provider
  meta.Model = stream.Metadata.Model

  onFirstModule := func() {
    s.emit(ctx, events, generation.Event{
      Type:       generation.EventProgress,
      PlanID:     res.PlanID,
      AttemptSeq: res.Seq,
      Message:    "first module streaming",
    })
  }

  parsed, err := generation.Parse(ctx, stream.Chunks, s.limits, onFirstModule)
  meta.Duration = time.Since(res.StartedAt)
  if err != nil {
    s.fail(ctx, res, events, err, meta, log)
    return
  }

  for i, m := range parsed.Modules {
    s.emit(ctx, events, generation.Event{
      Type:       generation.EventModuleSummary,
      PlanID:     res.PlanID,
      AttemptSeq: res.Seq,
      Module: &generation.ModuleSummary{
        Index:            i,
        Title:            m.Title,
        Description:      m.Description,
        EstimatedMinutes: m.EstimatedMinutes,
        TaskCount:        len(m.Tasks),
      },
    })
    s.emit(ctx, events, generation.Event{
      Type:          generation.EventProgress,
      PlanID:        res.PlanID,
      AttemptSeq:    res.Seq,
      ModulesParsed: i + 1,
      ModulesTotal:  len(parsed.Modules),
    })
  }

  if err := s.ledger.FinalizeSuccess(ctx, res, parsed, meta); err != nil {
    s.fail(ctx, res, events, err, meta, log)
    return
  }

  log.Info("generation attempt succeeded", "modules", len(parsed.Modules), "tasks", parsed.TaskCount, "duration_ms", meta.Duration.Milliseconds())
  s.emit(ctx, events, generation.Event{
    Type:         generation.EventComplete,
    PlanID:       res.PlanID,
    AttemptSeq:   res.Seq,
    ModulesCount: len(parsed.Modules),
    TasksCount:   parsed.TaskCount,
  })
}

func (s *planGenerationService) fail(ctx context.Context, res *Reservation, events chan<- generation.Event, cause error, meta FinalizeMeta, log *logger.Logger) {
  cancelled := errors.Is(cause, context.Canceled)
  timedOut := errors.Is(cause, context.DeadlineExceeded)
  kind := failure.Classify(cause, timedOut, "")
  meta.TimedOut = timedOut || kind == failure.KindTimeout
  meta.ErrMsg = cause.Error()
  if meta.Duration <= 0 {
    meta.Duration = time.Since(res.StartedAt)
  }

  // The request context may already be dead; bookkeeping still has to land.
  fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.finalizeTimeout)
  defer cancel()

  terminal, err := s.ledger.FinalizeFailure(fctx, res, kind, cancelled, meta)
  if err != nil {
    log.Error("failed to finalize attempt", "error", err.Error())
    terminal = true
  }

  if cancelled {
    log.Info("generation attempt cancelled", "duration_ms", meta.Duration.Milliseconds())
    s.emit(fctx, events, generation.Event{
      Type:       generation.EventCancelled,
      PlanID:     res.PlanID,
      AttemptSeq: res.Seq,
      Message:    "generation cancelled",
    })
    return
  }

  log.Warn("generation attempt failed",
    "classification", string(kind),
    "terminal", terminal,
    "error", cause.Error())
  s.emit(fctx, events, generation.Event{
    Type:           generation.EventError,
    PlanID:         res.PlanID,
    AttemptSeq:     res.Seq,
    Message:        cause.Error(),
    Classification: string(kind),
    Retryable:      !terminal,
  })
}

// emit delivers to the caller's channel and, when configured, fans the same
// event out over SSE so other sessions following the plan see it too.
func (s *planGenerationService) emit(ctx context.Context, events chan<- generation.Event, ev generation.Event) {
  switch ev.Type {
  case generation.EventComplete, generation.EventError, generation.EventCancelled:
    // The terminal event must reach the caller even when progress events
    // were dropped; the channel closes right after it, so the consumer's
    // final read always unblocks this send.
    events <- ev
  default:
    select {
    case events <- ev:
    default:
      s.log.Warn("event channel full; dropping event", "type", string(ev.Type), "plan_id", ev.PlanID.String())
    }
  }

  if s.emitter != nil {
    s.emitter.Emit(ctx, sse.SSEMessage{
      Channel: sse.PlanChannel(ev.PlanID),
      Event:   sse.SSEEventPlanGeneration,
      Data:    ev,
    })
  }
}
