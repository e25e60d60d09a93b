package handler

import (
	"context"
	"net/http"
	"time"

	"grindset-agent/internal/domain"
	"grindset-agent/internal/usecase"
)

func (h *Handler) routeTable() []route {
	return []route{
		{method: http.MethodPost, pattern: "/chat", serve: h.postChat},
		{method: http.MethodGet, pattern: "/chat/history", serve: h.getChatHistory},
		{method: http.MethodGet, pattern: "/goals", serve: h.listGoals},
		{method: http.MethodPost, pattern: "/goals", serve: h.createGoal},
		{method: http.MethodGet, pattern: "/goals/{id}", serve: h.getGoal},
		{method: http.MethodPut, pattern: "/goals/{id}", serve: h.updateGoal},
		{method: http.MethodDelete, pattern: "/goals/{id}", serve: h.deleteGoal},
		{method: http.MethodGet, pattern: "/goals/{id}/tasks", serve: h.listGoalTasks},
		{method: http.MethodPost, pattern: "/goals/{id}/tasks/next", serve: h.nextTask},
		{method: http.MethodGet, pattern: "/tasks", serve: h.listTasks},
		{method: http.MethodPost, pattern: "/tasks/{id}/status", serve: h.updateTaskStatus},
	}
}

type chatRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

type chatResponse struct {
	Reply         string                `json:"reply"`
	ToolUsed      *domain.ToolName      `json:"tool_used"`
	ToolsUsed     []domain.ToolName     `json:"tools_used"`
	ToolComponent *domain.ToolComponent `json:"tool_component"`
	Warning       string                `json:"warning,omitempty"`
}

type turnResponse struct {
	ID            string                `json:"id"`
	UserID        string                `json:"user_id"`
	Role          domain.Role           `json:"role"`
	Message       string                `json:"message"`
	CreatedAt     time.Time             `json:"created_at"`
	UsedTool      *domain.ToolName      `json:"used_tool"`
	ToolComponent *domain.ToolComponent `json:"tool_component"`
}

type historyResponse struct {
	Turns []turnResponse `json:"turns"`
}

type goalRequest struct {
	UserID               string `json:"user_id"`
	Title                string `json:"title"`
	Description          string `json:"description"`
	Icon                 string `json:"icon"`
	TargetOutcome        string `json:"target_outcome"`
	ExistingCapabilities string `json:"existing_capabilities"`
	DurationDays         int    `json:"duration_days"`
	// Duration is the older name of duration_days.
	Duration int `json:"duration"`
}

func (r goalRequest) input() usecase.GoalInput {
	days := r.DurationDays
	if days == 0 {
		days = r.Duration
	}
	return usecase.GoalInput{
		Title:                r.Title,
		Description:          r.Description,
		Icon:                 r.Icon,
		TargetOutcome:        r.TargetOutcome,
		ExistingCapabilities: r.ExistingCapabilities,
		DurationDays:         days,
	}
}

type createGoalResponse struct {
	Goal domain.Goal  `json:"goal"`
	Task *domain.Task `json:"task"`
}

type goalsResponse struct {
	Goals []domain.Goal `json:"goals"`
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type nextTaskRequest struct {
	UserID     string `json:"user_id"`
	LastTaskID string `json:"last_task_id"`
	Feedback   string `json:"feedback"`
}

type taskStatusRequest struct {
	UserID   string `json:"user_id"`
	Status   string `json:"status"`
	Deadline string `json:"deadline"`
}

func (h *Handler) postChat(ctx context.Context, c call) (int, any, error) {
	var req chatRequest
	if err := decodeBody(c.body, &req); err != nil {
		return 0, nil, err
	}
	out, err := h.chat.Chat(ctx, c.user, usecase.ChatInput{Message: req.Message})
	if err != nil {
		return 0, nil, err
	}
	tools := out.ToolsUsed
	if tools == nil {
		tools = []domain.ToolName{}
	}
	return http.StatusOK, chatResponse{
		Reply:         out.Reply,
		ToolUsed:      out.ToolUsed,
		ToolsUsed:     tools,
		ToolComponent: out.ToolComponent,
		Warning:       out.Warning,
	}, nil
}

func (h *Handler) getChatHistory(ctx context.Context, c call) (int, any, error) {
	turns, err := h.chat.ChatHistory(ctx, c.user)
	if err != nil {
		return 0, nil, err
	}
	resp := historyResponse{Turns: make([]turnResponse, 0, len(turns))}
	for _, t := range turns {
		resp.Turns = append(resp.Turns, turnResponse{
			ID:            t.ID,
			UserID:        t.UserID,
			Role:          t.Role,
			Message:       t.Message,
			CreatedAt:     t.CreatedAt,
			UsedTool:      t.UsedTool,
			ToolComponent: t.ToolComponent,
		})
	}
	return http.StatusOK, resp, nil
}

func (h *Handler) listGoals(ctx context.Context, c call) (int, any, error) {
	goals, err := h.goals.ListGoals(ctx, c.user)
	if err != nil {
		return 0, nil, err
	}
	if goals == nil {
		goals = []domain.Goal{}
	}
	return http.StatusOK, goalsResponse{Goals: goals}, nil
}

func (h *Handler) createGoal(ctx context.Context, c call) (int, any, error) {
	var req goalRequest
	if err := decodeBody(c.body, &req); err != nil {
		return 0, nil, err
	}
	out, err := h.goals.CreateGoal(ctx, c.user, req.input())
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, createGoalResponse{Goal: out.Goal, Task: &out.FirstTask}, nil
}

func (h *Handler) getGoal(ctx context.Context, c call) (int, any, error) {
	g, err := h.goals.GetGoal(ctx, c.user, c.id)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, g, nil
}

func (h *Handler) updateGoal(ctx context.Context, c call) (int, any, error) {
	var req goalRequest
	if err := decodeBody(c.body, &req); err != nil {
		return 0, nil, err
	}
	g, err := h.goals.UpdateGoal(ctx, c.user, c.id, req.input())
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, g, nil
}

func (h *Handler) deleteGoal(ctx context.Context, c call) (int, any, error) {
	if err := h.goals.DeleteGoal(ctx, c.user, c.id); err != nil {
		return 0, nil, err
	}
	return http.StatusNoContent, nil, nil
}

func (h *Handler) listGoalTasks(ctx context.Context, c call) (int, any, error) {
	tasks, err := h.goals.ListGoalTasks(ctx, c.user, c.id)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, tasksOrEmpty(tasks), nil
}

func (h *Handler) nextTask(ctx context.Context, c call) (int, any, error) {
	var req nextTaskRequest
	if err := decodeBody(c.body, &req); err != nil {
		return 0, nil, err
	}
	task, err := h.goals.GenerateNextTask(ctx, c.user, c.id, usecase.NextTaskInput{
		LastTaskID: req.LastTaskID,
		Feedback:   req.Feedback,
	})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, task, nil
}

func (h *Handler) listTasks(ctx context.Context, c call) (int, any, error) {
	tasks, err := h.goals.ListTasks(ctx, c.user)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, tasksOrEmpty(tasks), nil
}

func (h *Handler) updateTaskStatus(ctx context.Context, c call) (int, any, error) {
	var req taskStatusRequest
	if err := decodeBody(c.body, &req); err != nil {
		return 0, nil, err
	}
	task, err := h.goals.UpdateTaskStatus(ctx, c.user, c.id, usecase.TaskStatusInput{
		Status:   req.Status,
		Deadline: req.Deadline,
	})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, task, nil
}

func tasksOrEmpty(tasks []domain.Task) tasksResponse {
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasksResponse{Tasks: tasks}
}
