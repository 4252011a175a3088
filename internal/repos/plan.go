package repos

import (
  "context"
  "errors"
  "time"

  "github.com/google/uuid"
  "gorm.io/gorm"
  "gorm.io/gorm/clause"

  "github.com/planforge/planforge-backend/internal/logger"
  "github.com/planforge/planforge-backend/internal/types"
)

type PlanRepo interface {
  Create(ctx context.Context, tx *gorm.DB, plans []*types.Plan) ([]*types.Plan, error)
  GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Plan, error)
  GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Plan, error)

  // GetByIDForUpdate loads the plan row under a row-level lock. The lock
  // serializes the reserve check-then-act sequence across concurrent
  // requests; it must be called inside a transaction.
  GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Plan, error)

  UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type planRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewPlanRepo(db *gorm.DB, baseLog *logger.Logger) PlanRepo {
  repoLog := baseLog.With("repo", "PlanRepo")
  return &planRepo{db: db, log: repoLog}
}

func (r *planRepo) Create(ctx context.Context, tx *gorm.DB, plans []*types.Plan) ([]*types.Plan, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if len(plans) == 0 {
    return []*types.Plan{}, nil
  }
  if err := transaction.WithContext(ctx).Create(&plans).Error; err != nil {
    return nil, err
  }
  return plans, nil
}

func (r *planRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Plan, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var results []*types.Plan
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

func (r *planRepo) GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Plan, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var results []*types.Plan
  if userID == uuid.Nil {
    return results, nil
  }
  if err := transaction.WithContext(ctx).
    Where("user_id = ?", userID).
    Order("created_at DESC").
    Find(&results).Error; err != nil {
    return nil, err
  }
  return results, nil
}

func (r *planRepo) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Plan, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil {
    return nil, nil
  }

  q := transaction.WithContext(ctx)
  // FOR UPDATE is a syntax error on sqlite; sqlite serializes writers on its
  // own, so the clause is only emitted for postgres.
  if transaction.Dialector.Name() == "postgres" {
    q = q.Clauses(clause.Locking{Strength: "UPDATE"})
  }

  var plan types.Plan
  err := q.Where("id = ?", id).First(&plan).Error
  if errors.Is(err, gorm.ErrRecordNotFound) {
    return nil, nil
  }
  if err != nil {
    return nil, err
  }
  return &plan, nil
}

func (r *planRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
    Model(&types.Plan{}).
    Where("id = ?", id).
    Updates(updates).Error
}
