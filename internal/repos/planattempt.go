package repos

import (
  "context"
  "errors"
  "time"

  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/planforge/planforge-backend/internal/logger"
  "github.com/planforge/planforge-backend/internal/types"
)

type PlanAttemptRepo interface {
  Create(ctx context.Context, tx *gorm.DB, attempts []*types.PlanAttempt) ([]*types.PlanAttempt, error)
  GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.PlanAttempt, error)
  ListByPlanID(ctx context.Context, tx *gorm.DB, planID uuid.UUID) ([]*types.PlanAttempt, error)

  // CountByPlanID counts attempts of every status; the attempt cap is
  // enforced over all attempts, not just failures.
  CountByPlanID(ctx context.Context, tx *gorm.DB, planID uuid.UUID) (int64, error)

  GetInProgressByPlanID(ctx context.Context, tx *gorm.DB, planID uuid.UUID) (*types.PlanAttempt, error)
  UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type planAttemptRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewPlanAttemptRepo(db *gorm.DB, baseLog *logger.Logger) PlanAttemptRepo {
  repoLog := baseLog.With("repo", "PlanAttemptRepo")
  return &planAttemptRepo{db: db, log: repoLog}
}

func (r *planAttemptRepo) Create(ctx context.Context, tx *gorm.DB, attempts []*types.PlanAttempt) ([]*types.PlanAttempt, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if len(attempts) == 0 {
    return []*types.PlanAttempt{}, nil
  }
  if err := transaction.WithContext(ctx).Create(&attempts).Error; err != nil {
    return nil, err
  }
  return attempts, nil
}

func (r *planAttemptRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.PlanAttempt, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var results []*types.PlanAttempt
  if len(ids) == 0 {
    return results, nil
  }
  if err := transaction.WithContext(ctx).
    Where("id IN ?", ids).
    Find(&results).Error; err != nil {
    return nil, err
  }
  return results, nil
}

func (r *planAttemptRepo) ListByPlanID(ctx context.Context, tx *gorm.DB, planID uuid.UUID) ([]*types.PlanAttempt, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var results []*types.PlanAttempt
  if planID == uuid.Nil {
    return results, nil
  }
  if err := transaction.WithContext(ctx).
    Where("plan_id = ?", planID).
    Order("seq ASC").
    Find(&results).Error; err != nil {
    return nil, err
  }
  return results, nil
}

func (r *planAttemptRepo) CountByPlanID(ctx context.Context, tx *gorm.DB, planID uuid.UUID) (int64, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if planID == uuid.Nil {
    return 0, nil
  }
  var count int64
  if err := transaction.WithContext(ctx).
    Model(&types.PlanAttempt{}).
    Where("plan_id = ?", planID).
    Count(&count).Error; err != nil {
    return 0, err
  }
  return count, nil
}

func (r *planAttemptRepo) GetInProgressByPlanID(ctx context.Context, tx *gorm.DB, planID uuid.UUID) (*types.PlanAttempt, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if planID == uuid.Nil {
    return nil, nil
  }
  var attempt types.PlanAttempt
  err := transaction.WithContext(ctx).
    Where("plan_id = ? AND status = ?", planID, types.AttemptStatusInProgress).
    First(&attempt).Error
  if errors.Is(err, gorm.ErrRecordNotFound) {
    return nil, nil
  }
  if err != nil {
    return nil, err
  }
  return &attempt, nil
}

func (r *planAttemptRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil {
    return nil
  }
  if updates == nil {
    updates = map[string]interface{}{}
  }
  if _, ok := updates["updated_at"]; !ok {
    updates["updated_at"] = time.Now()
  }
  return transaction.WithContext(ctx).
    Model(&types.PlanAttempt{}).
    Where("id = ?", id).
    Updates(updates).Error
}
