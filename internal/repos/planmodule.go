package repos

import (
  "context"

  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/planforge/planforge-backend/internal/logger"
  "github.com/planforge/planforge-backend/internal/types"
)

type PlanModuleRepo interface {
  Create(ctx context.Context, tx *gorm.DB, modules []*types.PlanModule) ([]*types.PlanModule, error)
  GetByPlanIDs(ctx context.Context, tx *gorm.DB, planIDs []uuid.UUID) ([]*types.PlanModule, error)

  // DeleteByPlanID hard-deletes every module for the plan. Finalize replaces
  // the curriculum wholesale, so soft deletes would only accumulate garbage.
  DeleteByPlanID(ctx context.Context, tx *gorm.DB, planID uuid.UUID) error
}

type planModuleRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewPlanModuleRepo(db *gorm.DB, baseLog *logger.Logger) PlanModuleRepo {
  repoLog := baseLog.With("repo", "PlanModuleRepo")
  return &planModuleRepo{db: db, log: repoLog}
}

func (r *planModuleRepo) Create(ctx context.Context, tx *gorm.DB, modules []*types.PlanModule) ([]*types.PlanModule, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if len(modules) == 0 {
    return []*types.PlanModule{}, nil
  }
  if err := transaction.WithContext(ctx).Create(&modules).Error; err != nil {
    return nil, err
  }
  return modules, nil
}

func (r *planModuleRepo) GetByPlanIDs(ctx context.Context, tx *gorm.DB, planIDs []uuid.UUID) ([]*types.PlanModule, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var results []*types.PlanModule
  if len(planIDs) == 0 {
    return results, nil
  }
  if err := transaction.WithContext(ctx).
    Where("plan_id IN ?", planIDs).
    Order(`"index" ASC`).
    Find(&results).Error; err != nil {
    return nil, err
  }
  return results, nil
}

func (r *planModuleRepo) DeleteByPlanID(ctx context.Context, tx *gorm.DB, planID uuid.UUID) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if planID == uuid.Nil {
    return nil
  }
  return transaction.WithContext(ctx).
    Unscoped().
    Where("plan_id = ?", planID).
    Delete(&types.PlanModule{}).Error
}
