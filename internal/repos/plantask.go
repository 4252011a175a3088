package repos

import (
  "context"

  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/planforge/planforge-backend/internal/logger"
  "github.com/planforge/planforge-backend/internal/types"
)

type PlanTaskRepo interface {
  Create(ctx context.Context, tx *gorm.DB, tasks []*types.PlanTask) ([]*types.PlanTask, error)
  GetByModuleIDs(ctx context.Context, tx *gorm.DB, moduleIDs []uuid.UUID) ([]*types.PlanTask, error)
  DeleteByModuleIDs(ctx context.Context, tx *gorm.DB, moduleIDs []uuid.UUID) error
}

type planTaskRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewPlanTaskRepo(db *gorm.DB, baseLog *logger.Logger) PlanTaskRepo {
  repoLog := baseLog.With("repo", "PlanTaskRepo")
  return &planTaskRepo{db: db, log: repoLog}
}

func (r *planTaskRepo) Create(ctx context.Context, tx *gorm.DB, tasks []*types.PlanTask) ([]*types.PlanTask, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if len(tasks) == 0 {
    return []*types.PlanTask{}, nil
  }
  if err := transaction.WithContext(ctx).Create(&tasks).Error; err != nil {
    return nil, err
  }
  return tasks, nil
}

func (r *planTaskRepo) GetByModuleIDs(ctx context.Context, tx *gorm.DB, moduleIDs []uuid.UUID) ([]*types.PlanTask, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var results []*types.PlanTask
  if len(moduleIDs) == 0 {
    return results, nil
  }
  if err := transaction.WithContext(ctx).
    Where("module_id IN ?", moduleIDs).
    Order(`"index" ASC`).
    Find(&results).Error; err != nil {
    return nil, err
  }
  return results, nil
}

func (r *planTaskRepo) DeleteByModuleIDs(ctx context.Context, tx *gorm.DB, moduleIDs []uuid.UUID) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if len(moduleIDs) == 0 {
    return nil
  }
  return transaction.WithContext(ctx).
    Unscoped().
    Where("module_id IN ?", moduleIDs).
    Delete(&types.PlanTask{}).Error
}
