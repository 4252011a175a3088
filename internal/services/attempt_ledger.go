package services

import (
  "context"
  "encoding/json"
  "errors"
  "time"

  "github.com/google/uuid"
  "gorm.io/datatypes"
  "gorm.io/gorm"

  "github.com/planforge/planforge-backend/internal/failure"
  "github.com/planforge/planforge-backend/internal/generation"
  "github.com/planforge/planforge-backend/internal/logger"
  "github.com/planforge/planforge-backend/internal/repos"
  "github.com/planforge/planforge-backend/internal/types"
  "github.com/planforge/planforge-backend/internal/utils"
)

var (
  ErrPlanNotFound      = errors.New("plan not found")
  ErrNotPlanOwner      = errors.New("plan does not belong to the requesting user")
  ErrAttemptInProgress = errors.New("an attempt is already in progress for this plan")
  ErrAttemptsCapped    = errors.New("plan has exhausted its attempt budget")
  ErrPlanIneligible    = errors.New("plan failed terminally and accepts no further attempts")
)

const DefaultAttemptCap = 3

// Reservation is the ticket Reserve hands the orchestrator. It pins the
// attempt row, its sequence number and the exact sanitized input the
// backend will see.
type Reservation struct {
  AttemptID  uuid.UUID
  PlanID     uuid.UUID
  UserID     uuid.UUID
  Seq        int
  Cap        int
  Input      generation.Input
  PromptHash string
  StartedAt  time.Time
}

// FinalizeMeta carries per-attempt observations persisted into the attempt
// metadata blob.
type FinalizeMeta struct {
  Provider string
  Model    string
  Duration time.Duration
  TimedOut bool
  ErrMsg   string
}

// AttemptLedgerService owns every transition of the attempt lifecycle.
// Reserve admits at most one in-progress attempt per plan and at most Cap
// attempts total; the two finalizers each mutate a reserved attempt exactly
// once. All three run inside a single DB transaction, so a crash between
// steps leaves no partial state.
type AttemptLedgerService interface {
  Cap() int
  Reserve(ctx context.Context, planID, userID uuid.UUID, raw generation.RawInput) (*Reservation, error)
  FinalizeSuccess(ctx context.Context, res *Reservation, parsed *generation.ParsedGeneration, meta FinalizeMeta) error

  // FinalizeFailure records the classification and reports whether the
  // failure was terminal for the plan. Terminal means cancelled, a
  // non-retryable classification, or the attempt budget is spent.
  FinalizeFailure(ctx context.Context, res *Reservation, kind failure.Kind, cancelled bool, meta FinalizeMeta) (terminal bool, err error)

  ListAttempts(ctx context.Context, planID uuid.UUID) ([]*types.PlanAttempt, error)
}

type attemptLedgerService struct {
  db          *gorm.DB
  log         *logger.Logger
  cap         int
  planRepo    repos.PlanRepo
  attemptRepo repos.PlanAttemptRepo
  moduleRepo  repos.PlanModuleRepo
  taskRepo    repos.PlanTaskRepo
}

// NewAttemptLedgerService builds the ledger. attemptCap <= 0 falls back to
// PLAN_ATTEMPT_CAP (default 3).
func NewAttemptLedgerService(
  db *gorm.DB,
  baseLog *logger.Logger,
  attemptCap int,
  planRepo repos.PlanRepo,
  attemptRepo repos.PlanAttemptRepo,
  moduleRepo repos.PlanModuleRepo,
  taskRepo repos.PlanTaskRepo,
) AttemptLedgerService {
  svcLog := baseLog.With("service", "AttemptLedgerService")
  if attemptCap <= 0 {
    attemptCap = utils.GetEnvAsInt("PLAN_ATTEMPT_CAP", DefaultAttemptCap, svcLog)
  }
  return &attemptLedgerService{
    db:          db,
    log:         svcLog,
    cap:         attemptCap,
    planRepo:    planRepo,
    attemptRepo: attemptRepo,
    moduleRepo:  moduleRepo,
    taskRepo:    taskRepo,
  }
}

func (s *attemptLedgerService) Cap() int { return s.cap }

func (s *attemptLedgerService) Reserve(ctx context.Context, planID, userID uuid.UUID, raw generation.RawInput) (*Reservation, error) {
  in, err := generation.SanitizeInput(raw)
  if err != nil {
    return nil, err
  }

  var res *Reservation
  err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
    plan, err := s.planRepo.GetByIDForUpdate(ctx, tx, planID)
    if err != nil {
      return err
    }
    if plan == nil {
      return ErrPlanNotFound
    }
    if plan.UserID != userID {
      return ErrNotPlanOwner
    }
    if plan.GenerationStatus == types.PlanStatusFailed && !plan.Eligible {
      return ErrPlanIneligible
    }

    // The cap counts every attempt regardless of outcome, so a plan can
    // never accumulate more than Cap rows.
    count, err := s.attemptRepo.CountByPlanID(ctx, tx, planID)
    if err != nil {
      return err
    }
    if count >= int64(s.cap) {
      return ErrAttemptsCapped
    }

    inProgress, err := s.attemptRepo.GetInProgressByPlanID(ctx, tx, planID)
    if err != nil {
      return err
    }
    if inProgress != nil {
      return ErrAttemptInProgress
    }

    now := time.Now()
    attempt := &types.PlanAttempt{
      ID:             uuid.New(),
      PlanID:         planID,
      UserID:         userID,
      Seq:            int(count) + 1,
      Status:         types.AttemptStatusInProgress,
      InputTruncated: in.Truncated(),
      PromptHash:     generation.PromptHash(planID, userID, in),
      CreatedAt:      now,
      UpdatedAt:      now,
    }
    if _, err := s.attemptRepo.Create(ctx, tx, []*types.PlanAttempt{attempt}); err != nil {
      return err
    }

    if err := s.planRepo.UpdateFields(ctx, tx, planID, map[string]interface{}{
      "generation_status": types.PlanStatusGenerating,
    }); err != nil {
      return err
    }

    res = &Reservation{
      AttemptID:  attempt.ID,
      PlanID:     planID,
      UserID:     userID,
      Seq:        attempt.Seq,
      Cap:        s.cap,
      Input:      in,
      PromptHash: attempt.PromptHash,
      StartedAt:  now,
    }
    return nil
  })
  if err != nil {
    return nil, err
  }

  s.log.Info("attempt reserved", "plan_id", planID.String(), "attempt_id", res.AttemptID.String(), "seq", res.Seq)
  return res, nil
}

func (s *attemptLedgerService) FinalizeSuccess(ctx context.Context, res *Reservation, parsed *generation.ParsedGeneration, meta FinalizeMeta) error {
  if res == nil {
    return errors.New("nil reservation")
  }
  if parsed == nil || len(parsed.Modules) == 0 {
    return errors.New("finalize success requires a parsed plan")
  }

  err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
    // Replace the curriculum wholesale. Stale rows from an earlier
    // success must not survive a regeneration.
    existing, err := s.moduleRepo.GetByPlanIDs(ctx, tx, []uuid.UUID{res.PlanID})
    if err != nil {
      return err
    }
    if len(existing) > 0 {
      ids := make([]uuid.UUID, 0, len(existing))
      for _, m := range existing {
        ids = append(ids, m.ID)
      }
      if err := s.taskRepo.DeleteByModuleIDs(ctx, tx, ids); err != nil {
        return err
      }
      if err := s.moduleRepo.DeleteByPlanID(ctx, tx, res.PlanID); err != nil {
        return err
      }
    }

    now := time.Now()
    modules := make([]*types.PlanModule, 0, len(parsed.Modules))
    var tasks []*types.PlanTask
    taskCount := 0
    for mi, pm := range parsed.Modules {
      mod := &types.PlanModule{
        ID:               uuid.New(),
        PlanID:           res.PlanID,
        Index:            mi,
        Title:            pm.Title,
        Description:      pm.Description,
        EstimatedMinutes: pm.EstimatedMinutes,
        CreatedAt:        now,
        UpdatedAt:        now,
      }
      modules = append(modules, mod)
      for ti, pt := range pm.Tasks {
        tasks = append(tasks, &types.PlanTask{
          ID:               uuid.New(),
          ModuleID:         mod.ID,
          Index:            ti,
          Title:            pt.Title,
          Description:      pt.Description,
          EstimatedMinutes: pt.EstimatedMinutes,
          CreatedAt:        now,
          UpdatedAt:        now,
        })
        taskCount++
      }
    }
    if _, err := s.moduleRepo.Create(ctx, tx, modules); err != nil {
      return err
    }
    if _, err := s.taskRepo.Create(ctx, tx, tasks); err != nil {
      return err
    }

    blob := s.metadataBlob(res, parsed, meta, "", false)
    if err := s.attemptRepo.UpdateFields(ctx, tx, res.AttemptID, map[string]interface{}{
      "status":        types.AttemptStatusSuccess,
      "modules_count": len(modules),
      "tasks_count":   taskCount,
      "duration_ms":   meta.Duration.Milliseconds(),
      "metadata":      blob,
    }); err != nil {
      return err
    }

    return s.planRepo.UpdateFields(ctx, tx, res.PlanID, map[string]interface{}{
      "generation_status": types.PlanStatusReady,
      "eligible":          true,
    })
  })
  if err != nil {
    return err
  }

  s.log.Info("attempt finalized as success",
    "plan_id", res.PlanID.String(),
    "attempt_id", res.AttemptID.String(),
    "modules", len(parsed.Modules),
    "tasks", parsed.TaskCount)
  return nil
}

func (s *attemptLedgerService) FinalizeFailure(ctx context.Context, res *Reservation, kind failure.Kind, cancelled bool, meta FinalizeMeta) (bool, error) {
  if res == nil {
    return false, errors.New("nil reservation")
  }

  terminal := cancelled || !failure.RetryableKind(kind) || res.Seq >= res.Cap

  err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
    blob := s.metadataBlob(res, nil, meta, kind, cancelled)
    class := string(kind)
    if err := s.attemptRepo.UpdateFields(ctx, tx, res.AttemptID, map[string]interface{}{
      "status":        types.AttemptStatusFailure,
      "failure_class": &class,
      "duration_ms":   meta.Duration.Milliseconds(),
      "metadata":      blob,
    }); err != nil {
      return err
    }

    if terminal {
      return s.planRepo.UpdateFields(ctx, tx, res.PlanID, map[string]interface{}{
        "generation_status": types.PlanStatusFailed,
        "eligible":          false,
      })
    }

    // Non-terminal: the plan stays generating and eligible so a later
    // reservation can retry.
    return nil
  })
  if err != nil {
    return false, err
  }

  s.log.Warn("attempt finalized as failure",
    "plan_id", res.PlanID.String(),
    "attempt_id", res.AttemptID.String(),
    "seq", res.Seq,
    "classification", string(kind),
    "cancelled", cancelled,
    "terminal", terminal)
  return terminal, nil
}

func (s *attemptLedgerService) ListAttempts(ctx context.Context, planID uuid.UUID) ([]*types.PlanAttempt, error) {
  return s.attemptRepo.ListByPlanID(ctx, nil, planID)
}

func (s *attemptLedgerService) metadataBlob(res *Reservation, parsed *generation.ParsedGeneration, meta FinalizeMeta, kind failure.Kind, cancelled bool) datatypes.JSON {
  in := res.Input
  payload := map[string]any{
    "input": map[string]any{
      "topic":        in.Topic,
      "skill_level":  in.SkillLevel,
      "weekly_hours": in.WeeklyHours,
      "truncated":    in.Truncated(),
    },
    "timing": map[string]any{
      "started_at":  res.StartedAt.UTC().Format(time.RFC3339),
      "finished_at": res.StartedAt.Add(meta.Duration).UTC().Format(time.RFC3339),
      "duration_ms": meta.Duration.Milliseconds(),
    },
  }
  if meta.Provider != "" {
    payload["provider"] = map[string]any{
      "name":  meta.Provider,
      "model": meta.Model,
    }
  }
  if parsed != nil {
    payload["normalization"] = map[string]any{
      "values_clamped": parsed.Normalized,
    }
  }
  if kind != "" {
    f := map[string]any{
      "classification": string(kind),
      "timed_out":      meta.TimedOut,
      "cancelled":      cancelled,
    }
    if meta.ErrMsg != "" {
      f["error"] = meta.ErrMsg
    }
    payload["failure"] = f
  }
  b, err := json.Marshal(payload)
  if err != nil {
    s.log.Warn("failed to marshal attempt metadata", "error", err.Error())
    return nil
  }
  return datatypes.JSON(b)
}
