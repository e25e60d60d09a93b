package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"grindset-agent/internal/domain"
	"grindset-agent/internal/logging"
)

type GoalStore interface {
	PutGoal(ctx context.Context, g domain.Goal) error
	GetGoal(ctx context.Context, userID, goalID string) (domain.Goal, error)
	ListGoals(ctx context.Context, userID string) ([]domain.Goal, error)
	DeleteGoal(ctx context.Context, userID, goalID string) error
	PutTask(ctx context.Context, t domain.Task) error
	GetTask(ctx context.Context, userID, taskID string) (domain.Task, error)
	ListTasks(ctx context.Context, userID string) ([]domain.Task, error)
	ListGoalTasks(ctx context.Context, userID, goalID string) ([]domain.Task, error)
	UpdateTaskStatus(ctx context.Context, userID, taskID string, status domain.TaskStatus, deadline *time.Time) error
}

type GoalService struct {
	store   GoalStore
	llm     LLMClient
	timeout time.Duration
	now     func() time.Time
}

// GoalInput carries goal fields. On update, blank strings and a zero
// duration leave the stored value unchanged.
type GoalInput struct {
	Title                string
	Description          string
	Icon                 string
	TargetOutcome        string
	ExistingCapabilities string
	DurationDays         int
}

type CreateGoalOutput struct {
	Goal      domain.Goal
	FirstTask domain.Task
}

type NextTaskInput struct {
	LastTaskID string
	Feedback   string
}

type TaskStatusInput struct {
	Status   string
	Deadline string
}

func NewGoalService(store GoalStore, llm LLMClient, callTimeout time.Duration) (*GoalService, error) {
	if store == nil {
		return nil, errors.New("usecase: goal store must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &GoalService{store: store, llm: llm, timeout: callTimeout, now: time.Now}, nil
}

func (s *GoalService) ListGoals(ctx context.Context, user domain.UserContext) ([]domain.Goal, error) {
	userID, err := requireUser(user)
	if err != nil {
		return nil, err
	}
	goals, err := s.store.ListGoals(ctx, userID)
	if err != nil {
		return nil, newError(ErrorInternal, "goal_list_error", err)
	}
	return goals, nil
}

func (s *GoalService) GetGoal(ctx context.Context, user domain.UserContext, goalID string) (domain.Goal, error) {
	userID, err := requireUser(user)
	if err != nil {
		return domain.Goal{}, err
	}
	return s.loadGoal(ctx, userID, goalID)
}

// CreateGoal stores the goal with its feasibility verdict, then generates and
// stores its first task. A failed task generation leaves the goal in place.
func (s *GoalService) CreateGoal(ctx context.Context, user domain.UserContext, in GoalInput) (CreateGoalOutput, error) {
	userID, err := requireUser(user)
	if err != nil {
		return CreateGoalOutput{}, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return CreateGoalOutput{}, newError(ErrorInvalidInput, "missing_title", nil)
	}
	if in.DurationDays <= 0 {
		return CreateGoalOutput{}, newError(ErrorInvalidInput, "invalid_duration", nil)
	}

	now := s.now().UTC()
	goal := domain.Goal{
		ID:                   newID(),
		UserID:               userID,
		Title:                strings.TrimSpace(in.Title),
		Description:          strings.TrimSpace(in.Description),
		Icon:                 strings.TrimSpace(in.Icon),
		TargetOutcome:        strings.TrimSpace(in.TargetOutcome),
		ExistingCapabilities: strings.TrimSpace(in.ExistingCapabilities),
		DurationDays:         in.DurationDays,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	goal.Feasible, goal.FeasibilityReason = s.assessFeasibility(ctx, goal, nil)
	if err := s.store.PutGoal(ctx, goal); err != nil {
		return CreateGoalOutput{}, newError(ErrorInternal, "goal_write_error", err)
	}

	task, err := s.generateTask(ctx, goal, firstTaskPrompt(goal), 1)
	if err != nil {
		return CreateGoalOutput{Goal: goal}, err
	}
	return CreateGoalOutput{Goal: goal, FirstTask: task}, nil
}

// UpdateGoal applies the non-empty fields and re-evaluates feasibility
// against the goal's task progress.
func (s *GoalService) UpdateGoal(ctx context.Context, user domain.UserContext, goalID string, patch GoalInput) (domain.Goal, error) {
	userID, err := requireUser(user)
	if err != nil {
		return domain.Goal{}, err
	}
	if patch.DurationDays < 0 {
		return domain.Goal{}, newError(ErrorInvalidInput, "invalid_duration", nil)
	}
	goal, err := s.loadGoal(ctx, userID, goalID)
	if err != nil {
		return domain.Goal{}, err
	}
	applyPatch(&goal, patch)

	tasks, err := s.store.ListGoalTasks(ctx, userID, goal.ID)
	if err != nil {
		return domain.Goal{}, newError(ErrorInternal, "task_list_error", err)
	}
	p := progress{total: len(tasks)}
	for _, t := range tasks {
		if t.Status == domain.TaskCompleted {
			p.completed++
		}
	}
	goal.Feasible, goal.FeasibilityReason = s.assessFeasibility(ctx, goal, &p)
	goal.UpdatedAt = s.now().UTC()

	if err := s.store.PutGoal(ctx, goal); err != nil {
		return domain.Goal{}, newError(ErrorInternal, "goal_write_error", err)
	}
	return goal, nil
}

func applyPatch(g *domain.Goal, p GoalInput) {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&g.Title, p.Title)
	set(&g.Description, p.Description)
	set(&g.Icon, p.Icon)
	set(&g.TargetOutcome, p.TargetOutcome)
	set(&g.ExistingCapabilities, p.ExistingCapabilities)
	if p.DurationDays > 0 {
		g.DurationDays = p.DurationDays
	}
}

// DeleteGoal removes the goal and every task generated for it.
func (s *GoalService) DeleteGoal(ctx context.Context, user domain.UserContext, goalID string) error {
	userID, err := requireUser(user)
	if err != nil {
		return err
	}
	goalID = strings.TrimSpace(goalID)
	if goalID == "" {
		return newError(ErrorInvalidInput, "missing_goal_id", nil)
	}
	if err := s.store.DeleteGoal(ctx, userID, goalID); err != nil {
		return storeError("goal_not_found", "goal_delete_error", err)
	}
	return nil
}

func (s *GoalService) ListTasks(ctx context.Context, user domain.UserContext) ([]domain.Task, error) {
	userID, err := requireUser(user)
	if err != nil {
		return nil, err
	}
	tasks, err := s.store.ListTasks(ctx, userID)
	if err != nil {
		return nil, newError(ErrorInternal, "task_list_error", err)
	}
	return tasks, nil
}

// ListGoalTasks returns the goal's tasks by ascending step.
func (s *GoalService) ListGoalTasks(ctx context.Context, user domain.UserContext, goalID string) ([]domain.Task, error) {
	userID, err := requireUser(user)
	if err != nil {
		return nil, err
	}
	goal, err := s.loadGoal(ctx, userID, goalID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.store.ListGoalTasks(ctx, userID, goal.ID)
	if err != nil {
		return nil, newError(ErrorInternal, "task_list_error", err)
	}
	return tasks, nil
}

// GenerateNextTask follows up the given task, or the goal's highest step when
// no task id is supplied.
func (s *GoalService) GenerateNextTask(ctx context.Context, user domain.UserContext, goalID string, in NextTaskInput) (domain.Task, error) {
	userID, err := requireUser(user)
	if err != nil {
		return domain.Task{}, err
	}
	feedback := strings.TrimSpace(in.Feedback)
	if feedback == "" {
		return domain.Task{}, newError(ErrorInvalidInput, "missing_feedback", nil)
	}
	goal, err := s.loadGoal(ctx, userID, goalID)
	if err != nil {
		return domain.Task{}, err
	}
	last, err := s.lastTask(ctx, userID, goal.ID, strings.TrimSpace(in.LastTaskID))
	if err != nil {
		return domain.Task{}, err
	}
	step := last.Step
	if step < 1 {
		step = 1
	}
	return s.generateTask(ctx, goal, nextTaskPrompt(goal, last, feedback), step+1)
}

func (s *GoalService) lastTask(ctx context.Context, userID, goalID, taskID string) (domain.Task, error) {
	if taskID != "" {
		t, err := s.store.GetTask(ctx, userID, taskID)
		if err != nil {
			return domain.Task{}, storeError("task_not_found", "task_read_error", err)
		}
		if t.GoalID != goalID {
			return domain.Task{}, newError(ErrorNotFound, "task_not_found", nil)
		}
		return t, nil
	}
	tasks, err := s.store.ListGoalTasks(ctx, userID, goalID)
	if err != nil {
		return domain.Task{}, newError(ErrorInternal, "task_list_error", err)
	}
	if len(tasks) == 0 {
		return domain.Task{}, newError(ErrorInvalidInput, "no_previous_task", nil)
	}
	return tasks[len(tasks)-1], nil
}

// UpdateTaskStatus sets the status and optional RFC3339 deadline, returning
// the stored task.
func (s *GoalService) UpdateTaskStatus(ctx context.Context, user domain.UserContext, taskID string, in TaskStatusInput) (domain.Task, error) {
	userID, err := requireUser(user)
	if err != nil {
		return domain.Task{}, err
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return domain.Task{}, newError(ErrorInvalidInput, "missing_task_id", nil)
	}
	status := domain.TaskStatus(strings.TrimSpace(in.Status))
	if !status.Valid() {
		return domain.Task{}, newError(ErrorInvalidInput, "invalid_status", nil)
	}
	var deadline *time.Time
	if raw := strings.TrimSpace(in.Deadline); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.Task{}, newError(ErrorInvalidInput, "invalid_deadline", err)
		}
		ts = ts.UTC()
		deadline = &ts
	}

	if err := s.store.UpdateTaskStatus(ctx, userID, taskID, status, deadline); err != nil {
		return domain.Task{}, storeError("task_not_found", "task_write_error", err)
	}
	task, err := s.store.GetTask(ctx, userID, taskID)
	if err != nil {
		return domain.Task{}, storeError("task_not_found", "task_read_error", err)
	}
	return task, nil
}

func (s *GoalService) loadGoal(ctx context.Context, userID, goalID string) (domain.Goal, error) {
	goalID = strings.TrimSpace(goalID)
	if goalID == "" {
		return domain.Goal{}, newError(ErrorInvalidInput, "missing_goal_id", nil)
	}
	g, err := s.store.GetGoal(ctx, userID, goalID)
	if err != nil {
		return domain.Goal{}, storeError("goal_not_found", "goal_read_error", err)
	}
	return g, nil
}

// assessFeasibility never fails. Any model or parse problem counts as
// feasible with no reason.
func (s *GoalService) assessFeasibility(ctx context.Context, g domain.Goal, p *progress) (bool, string) {
	raw, err := s.generate(ctx, feasibilityPrompt(g, p))
	if err != nil {
		logging.FromContext(ctx).Warn("model_unavailable", "stage", "feasibility", "user_id", g.UserID, "err", err)
		return true, ""
	}
	out, ok := extractBraced(raw).(parsedOutput)
	if !ok {
		return true, ""
	}
	feasible, ok := out.boolean("feasible")
	if !ok {
		return true, ""
	}
	return feasible, out.str("reason")
}

func (s *GoalService) generateTask(ctx context.Context, g domain.Goal, prompt string, step int) (domain.Task, error) {
	raw, err := s.generate(ctx, prompt)
	if err != nil {
		return domain.Task{}, upstreamError("task_generation_failed", err)
	}
	out, ok := extractBraced(raw).(parsedOutput)
	if !ok || out.str("task_text") == "" {
		return domain.Task{}, newError(ErrorUpstream, "task_generation_invalid", nil)
	}

	task := domain.Task{
		ID:          newID(),
		GoalID:      g.ID,
		UserID:      g.UserID,
		Step:        step,
		TaskText:    out.str("task_text"),
		Reason:      out.str("reason"),
		Description: out.str("description"),
		Status:      domain.TaskPending,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.PutTask(ctx, task); err != nil {
		return domain.Task{}, newError(ErrorInternal, "task_write_error", err)
	}
	return task, nil
}

func (s *GoalService) generate(ctx context.Context, prompt string) (string, error) {
	return callExternal(ctx, s.timeout, func(ctx context.Context) (string, error) {
		return s.llm.Generate(ctx, []domain.PromptTurn{{Role: domain.PromptRoleUser, Text: prompt}})
	})
}

func requireUser(user domain.UserContext) (string, error) {
	userID := strings.TrimSpace(user.UserID)
	if userID == "" {
		return "", newError(ErrorInvalidInput, "missing_user", nil)
	}
	return userID, nil
}

// newID returns a time-ordered id so store order follows creation order.
var newID = func() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
