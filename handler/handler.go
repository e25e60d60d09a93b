package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"grindset-agent/internal/domain"
	"grindset-agent/internal/logging"
	"grindset-agent/internal/usecase"
)

const (
	headerCorrelationID = "X-Correlation-Id"
	headerUserID        = "X-User-Id"
)

type ChatUseCase interface {
	Chat(ctx context.Context, user domain.UserContext, in usecase.ChatInput) (usecase.ChatOutput, error)
	ChatHistory(ctx context.Context, user domain.UserContext) ([]domain.Turn, error)
}

type GoalUseCase interface {
	ListGoals(ctx context.Context, user domain.UserContext) ([]domain.Goal, error)
	GetGoal(ctx context.Context, user domain.UserContext, goalID string) (domain.Goal, error)
	CreateGoal(ctx context.Context, user domain.UserContext, in usecase.GoalInput) (usecase.CreateGoalOutput, error)
	UpdateGoal(ctx context.Context, user domain.UserContext, goalID string, patch usecase.GoalInput) (domain.Goal, error)
	DeleteGoal(ctx context.Context, user domain.UserContext, goalID string) error
	ListTasks(ctx context.Context, user domain.UserContext) ([]domain.Task, error)
	ListGoalTasks(ctx context.Context, user domain.UserContext, goalID string) ([]domain.Task, error)
	GenerateNextTask(ctx context.Context, user domain.UserContext, goalID string, in usecase.NextTaskInput) (domain.Task, error)
	UpdateTaskStatus(ctx context.Context, user domain.UserContext, taskID string, in usecase.TaskStatusInput) (domain.Task, error)
}

// Handler adapts API Gateway proxy events to the chat and goal usecases.
type Handler struct {
	chat          ChatUseCase
	goals         GoalUseCase
	defaultUserID string
	logger        *slog.Logger
	routes        []route
}

type Option func(*Handler)

// WithDefaultUserID sets the identity used when a request names none.
func WithDefaultUserID(userID string) Option {
	return func(h *Handler) {
		h.defaultUserID = strings.TrimSpace(userID)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewHandler(chat ChatUseCase, goals GoalUseCase, opts ...Option) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat usecase must not be nil")
	}
	if goals == nil {
		return nil, errors.New("handler: goal usecase must not be nil")
	}
	h := &Handler{chat: chat, goals: goals, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	h.routes = h.routeTable()
	return h, nil
}

// call is one routed request.
type call struct {
	user domain.UserContext
	id   string
	body string
}

type endpoint func(ctx context.Context, c call) (int, any, error)

type route struct {
	method  string
	pattern string
	serve   endpoint
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	corrID := headerValue(event, headerCorrelationID)
	if corrID == "" {
		corrID = uuid.NewString()
	}
	logger := h.logger.With("correlation_id", corrID, "method", event.HTTPMethod, "path", event.Path)
	ctx = logging.WithContext(ctx, logger)

	status, body, err := h.dispatch(ctx, event)
	if err != nil {
		var ucErr *usecase.Error
		if !errors.As(err, &ucErr) {
			ucErr = &usecase.Error{Code: usecase.ErrorInternal, Reason: "unexpected_error", Err: err}
		}
		if status == 0 {
			status = statusFor(ucErr.Code)
		}
		body = errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason}
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", "status", status, "reason", ucErr.Reason, "err", err)
		} else {
			logger.Info("request rejected", "status", status, "reason", ucErr.Reason)
		}
	}
	logger.Info("request completed", "status", status, "duration_ms", time.Since(start).Milliseconds())
	return respond(status, body, corrID), nil
}

func (h *Handler) dispatch(ctx context.Context, event events.APIGatewayProxyRequest) (int, any, error) {
	body, err := requestBody(event)
	if err != nil {
		return 0, nil, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err}
	}

	pathMatched := false
	for _, rt := range h.routes {
		id, ok := matchPath(rt.pattern, event.Path)
		if !ok {
			continue
		}
		pathMatched = true
		if !strings.EqualFold(rt.method, event.HTTPMethod) {
			continue
		}
		user, ok := h.resolveUser(event, body)
		if !ok {
			return 0, nil, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "missing_user"}
		}
		return rt.serve(ctx, call{user: user, id: id, body: body})
	}
	if pathMatched {
		return http.StatusMethodNotAllowed, nil, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "method_not_allowed"}
	}
	return 0, nil, &usecase.Error{Code: usecase.ErrorNotFound, Reason: "route_not_found"}
}

// resolveUser prefers the body user_id, then the X-User-Id header, then the
// configured default.
func (h *Handler) resolveUser(event events.APIGatewayProxyRequest, body string) (domain.UserContext, bool) {
	if strings.TrimSpace(body) != "" {
		var peek struct {
			UserID string `json:"user_id"`
		}
		if err := json.Unmarshal([]byte(body), &peek); err == nil {
			if id := strings.TrimSpace(peek.UserID); id != "" {
				return domain.UserContext{UserID: id}, true
			}
		}
	}
	if id := headerValue(event, headerUserID); id != "" {
		return domain.UserContext{UserID: id}, true
	}
	if h.defaultUserID != "" {
		return domain.UserContext{UserID: h.defaultUserID}, true
	}
	return domain.UserContext{}, false
}

func requestBody(event events.APIGatewayProxyRequest) (string, error) {
	if !event.IsBase64Encoded {
		return event.Body, nil
	}
	b, err := base64.StdEncoding.DecodeString(event.Body)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// matchPath compares slash separated segments; a "{id}" segment captures.
func matchPath(pattern, path string) (string, bool) {
	want := strings.Split(strings.Trim(pattern, "/"), "/")
	got := strings.Split(strings.Trim(path, "/"), "/")
	if len(want) != len(got) {
		return "", false
	}
	var id string
	for i, seg := range want {
		if seg == "{id}" {
			v, err := url.PathUnescape(got[i])
			if err != nil || strings.TrimSpace(v) == "" {
				return "", false
			}
			id = v
			continue
		}
		if seg != got[i] {
			return "", false
		}
	}
	return id, true
}

// headerValue looks a header up case-insensitively.
func headerValue(event events.APIGatewayProxyRequest, name string) string {
	for k, v := range event.Headers {
		if strings.EqualFold(k, name) {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	for k, vs := range event.MultiValueHeaders {
		if strings.EqualFold(k, name) && len(vs) > 0 {
			if v := strings.TrimSpace(vs[0]); v != "" {
				return v
			}
		}
	}
	return ""
}

func decodeBody(body string, v any) error {
	if strings.TrimSpace(body) == "" {
		return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: errors.New("empty body")}
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err}
	}
	return nil
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respond(status int, body any, corrID string) events.APIGatewayProxyResponse {
	headers := map[string]string{headerCorrelationID: corrID}
	if status == http.StatusNoContent || body == nil {
		return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers}
	}
	b, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		b = []byte(`{"error":"INTERNAL_ERROR","reason":"encode_response"}`)
	}
	headers["Content-Type"] = "application/json"
	return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers, Body: string(b)}
}
