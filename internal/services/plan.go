package services

import (
  "context"
  "fmt"
  "sort"
  "strings"

  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/planforge/planforge-backend/internal/logger"
  "github.com/planforge/planforge-backend/internal/repos"
  "github.com/planforge/planforge-backend/internal/types"
)

// PlanView is a plan joined with its current curriculum, ordered by index.
type PlanView struct {
  Plan    *types.Plan       `json:"plan"`
  Modules []*PlanModuleView `json:"modules"`
}

type PlanModuleView struct {
  Module *types.PlanModule `json:"module"`
  Tasks  []*types.PlanTask `json:"tasks"`
}

type PlanService interface {
  CreatePlan(ctx context.Context, userID uuid.UUID, title, topic string) (*types.Plan, error)
  GetPlan(ctx context.Context, planID, userID uuid.UUID) (*PlanView, error)
  ListPlans(ctx context.Context, userID uuid.UUID) ([]*types.Plan, error)
}

type planService struct {
  db         *gorm.DB
  log        *logger.Logger
  planRepo   repos.PlanRepo
  moduleRepo repos.PlanModuleRepo
  taskRepo   repos.PlanTaskRepo
}

func NewPlanService(db *gorm.DB, baseLog *logger.Logger, planRepo repos.PlanRepo, moduleRepo repos.PlanModuleRepo, taskRepo repos.PlanTaskRepo) PlanService {
  serviceLog := baseLog.With("service", "PlanService")
  return &planService{
    db:         db,
    log:        serviceLog,
    planRepo:   planRepo,
    moduleRepo: moduleRepo,
    taskRepo:   taskRepo,
  }
}

func (s *planService) CreatePlan(ctx context.Context, userID uuid.UUID, title, topic string) (*types.Plan, error) {
  topic = strings.TrimSpace(topic)
  if topic == "" {
    return nil, fmt.Errorf("topic is required")
  }
  title = strings.TrimSpace(title)
  if title == "" {
    title = topic
  }

  plan := &types.Plan{
    ID:               uuid.New(),
    UserID:           userID,
    Title:            title,
    Topic:            topic,
    GenerationStatus: types.PlanStatusNotStarted,
    Eligible:         true,
  }
  if _, err := s.planRepo.Create(ctx, nil, []*types.Plan{plan}); err != nil {
    return nil, err
  }
  return plan, nil
}

func (s *planService) GetPlan(ctx context.Context, planID, userID uuid.UUID) (*PlanView, error) {
  plans, err := s.planRepo.GetByIDs(ctx, nil, []uuid.UUID{planID})
  if err != nil {
    return nil, err
  }
  if len(plans) == 0 {
    return nil, ErrPlanNotFound
  }
  plan := plans[0]
  if plan.UserID != userID {
    return nil, ErrNotPlanOwner
  }

  modules, err := s.moduleRepo.GetByPlanIDs(ctx, nil, []uuid.UUID{planID})
  if err != nil {
    return nil, err
  }
  sort.Slice(modules, func(i, j int) bool { return modules[i].Index < modules[j].Index })

  moduleIDs := make([]uuid.UUID, 0, len(modules))
  for _, m := range modules {
    moduleIDs = append(moduleIDs, m.ID)
  }
  tasks, err := s.taskRepo.GetByModuleIDs(ctx, nil, moduleIDs)
  if err != nil {
    return nil, err
  }
  byModule := make(map[uuid.UUID][]*types.PlanTask, len(modules))
  for _, t := range tasks {
    byModule[t.ModuleID] = append(byModule[t.ModuleID], t)
  }

  view := &PlanView{Plan: plan, Modules: make([]*PlanModuleView, 0, len(modules))}
  for _, m := range modules {
    mt := byModule[m.ID]
    sort.Slice(mt, func(i, j int) bool { return mt[i].Index < mt[j].Index })
    view.Modules = append(view.Modules, &PlanModuleView{Module: m, Tasks: mt})
  }
  return view, nil
}

func (s *planService) ListPlans(ctx context.Context, userID uuid.UUID) ([]*types.Plan, error) {
  return s.planRepo.GetByUserID(ctx, nil, userID)
}
