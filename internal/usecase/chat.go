package usecase

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"grindset-agent/internal/domain"
	"grindset-agent/internal/logging"
)

const (
	defaultContextTurns  = 5
	defaultMaxMessageLen = 2000

	apologyReply = "Sorry, I couldn't generate a response."

	// WarningPersistenceFailed marks a reply that could not be saved.
	WarningPersistenceFailed = "persistence_failed"
)

// LLMClient is a single-shot language model.
type LLMClient interface {
	Generate(ctx context.Context, turns []domain.PromptTurn) (string, error)
}

type ConversationStore interface {
	AppendTurn(ctx context.Context, turn domain.Turn) (string, error)
	AppendTurns(ctx context.Context, turns []domain.Turn) error
	RecentTurns(ctx context.Context, userID string, limit int, roles []domain.Role) ([]domain.Turn, error)
	ListTurns(ctx context.Context, userID string) ([]domain.Turn, error)
}

type ChatConfig struct {
	ContextTurns     int
	MaxMessageLength int
	CallTimeout      time.Duration
}

type ChatService struct {
	store ConversationStore
	llm   LLMClient
	tools dispatcher
	cfg   ChatConfig
	now   func() time.Time
}

type ChatInput struct {
	Message string
}

type ChatOutput struct {
	Reply         string
	ToolUsed      *domain.ToolName
	ToolsUsed     []domain.ToolName
	ToolComponent *domain.ToolComponent
	Warning       string
}

func NewChatService(store ConversationStore, llm LLMClient, tools map[domain.ToolName]ToolHandler, cfg ChatConfig) (*ChatService, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if cfg.ContextTurns <= 0 {
		cfg.ContextTurns = defaultContextTurns
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = defaultMaxMessageLen
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	return &ChatService{
		store: store,
		llm:   llm,
		tools: dispatcher{handlers: tools, timeout: cfg.CallTimeout},
		cfg:   cfg,
		now:   time.Now,
	}, nil
}

// Chat answers one message. Model and tool failures degrade to fallback text,
// so the only errors are invalid input and an unreadable conversation log.
func (s *ChatService) Chat(ctx context.Context, user domain.UserContext, in ChatInput) (ChatOutput, error) {
	user.UserID = strings.TrimSpace(user.UserID)
	if user.UserID == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "missing_user", nil)
	}
	// Trimming only validates; the message is stored and searched verbatim.
	trimmed := strings.TrimSpace(in.Message)
	if trimmed == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if utf8.RuneCountInString(trimmed) > s.cfg.MaxMessageLength {
		return ChatOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	message := in.Message

	history, err := s.assembleContext(ctx, user.UserID)
	if err != nil {
		return ChatOutput{}, newError(ErrorInternal, "context_unavailable", err)
	}

	prompt := buildClassifierPrompt(s.now(), history, message)
	out := ChatOutput{Reply: apologyReply}
	raw, err := s.generate(ctx, prompt)
	if err == nil && raw == "" {
		err = errEmptyOutput
	}
	if err != nil {
		logging.FromContext(ctx).Warn("model_unavailable", "stage", "classifier", "user_id", user.UserID, "err", err)
	} else {
		decision := readIntent(raw)
		out.Reply = decision.draft
		if len(decision.tools) > 0 {
			results := s.tools.dispatch(ctx, user, message, decision.tools)
			s.announce(ctx, user.UserID, decision.tools)
			out.Reply = s.ground(ctx, user.UserID, prompt, decision, results)
			out.ToolsUsed = decision.tools
			last := decision.tools[len(decision.tools)-1]
			component := last.Component()
			out.ToolUsed = &last
			out.ToolComponent = &component
		}
	}

	if err := s.persist(ctx, user.UserID, message, out); err != nil {
		logging.FromContext(ctx).Error("persistence_failed", "user_id", user.UserID, "err", err)
		out.Warning = WarningPersistenceFailed
	}
	return out, nil
}

// ChatHistory returns every stored turn of the user, oldest first.
func (s *ChatService) ChatHistory(ctx context.Context, user domain.UserContext) ([]domain.Turn, error) {
	userID := strings.TrimSpace(user.UserID)
	if userID == "" {
		return nil, newError(ErrorInvalidInput, "missing_user", nil)
	}
	turns, err := s.store.ListTurns(ctx, userID)
	if err != nil {
		return nil, newError(ErrorInternal, "history_unavailable", err)
	}
	return turns, nil
}

// assembleContext returns at most ContextTurns user and assistant turns,
// oldest first, in model roles.
func (s *ChatService) assembleContext(ctx context.Context, userID string) ([]domain.PromptTurn, error) {
	turns, err := s.store.RecentTurns(ctx, userID, s.cfg.ContextTurns, []domain.Role{domain.RoleUser, domain.RoleAssistant})
	if err != nil {
		return nil, err
	}
	history := toPromptTurns(turns)
	if len(history) > s.cfg.ContextTurns {
		history = history[len(history)-s.cfg.ContextTurns:]
	}
	return history, nil
}

var errEmptyOutput = errors.New("usecase: empty model output")

// generate makes one bounded model call and returns the trimmed text.
func (s *ChatService) generate(ctx context.Context, prompt []domain.PromptTurn) (string, error) {
	raw, err := callExternal(ctx, s.cfg.CallTimeout, func(ctx context.Context) (string, error) {
		return s.llm.Generate(ctx, prompt)
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}

type intent struct {
	tools []domain.ToolName
	draft string
}

// readIntent never fails: unparseable output becomes the draft reply with no
// tools.
func readIntent(raw string) intent {
	switch out := extractFenced(raw).(type) {
	case parsedOutput:
		draft := out.str("response")
		if draft == "" {
			draft = out.raw
		}
		return intent{tools: requestedTools(out.strList("tools_needed")), draft: draft}
	default:
		return intent{draft: out.rawText()}
	}
}

// requestedTools keeps known names, once each, in canonical order.
func requestedTools(names []string) []domain.ToolName {
	want := make(map[domain.ToolName]bool, len(names))
	for _, n := range names {
		if t, ok := domain.ParseToolName(strings.ToLower(n)); ok {
			want[t] = true
		}
	}
	var tools []domain.ToolName
	for _, t := range domain.Tools {
		if want[t] {
			tools = append(tools, t)
		}
	}
	return tools
}

// announce records one system turn per tool so the log shows tool use even
// when grounding fails afterwards.
func (s *ChatService) announce(ctx context.Context, userID string, tools []domain.ToolName) {
	for _, tool := range tools {
		component := tool.Component()
		_, err := s.store.AppendTurn(ctx, domain.Turn{
			UserID:        userID,
			Role:          domain.RoleSystem,
			Message:       component.Label,
			UsedTool:      &tool,
			ToolComponent: &component,
		})
		if err != nil {
			logging.FromContext(ctx).Warn("announce_failed", "tool", string(tool), "user_id", userID, "err", err)
		}
	}
}

// ground re-asks the model with the tool results. Without a usable response
// field it falls back to the raw text and then to the classifier draft.
func (s *ChatService) ground(ctx context.Context, userID string, prompt []domain.PromptTurn, decision intent, results map[domain.ToolName]string) string {
	raw, err := s.generate(ctx, buildGroundedPrompt(prompt, decision.tools, results))
	if err != nil {
		logging.FromContext(ctx).Warn("model_unavailable", "stage", "responder", "user_id", userID, "err", err)
		return apologyReply
	}
	if out, ok := extractFenced(raw).(parsedOutput); ok {
		if reply := out.str("response"); reply != "" {
			return reply
		}
	}
	if raw != "" {
		return raw
	}
	return decision.draft
}

func (s *ChatService) persist(ctx context.Context, userID, message string, out ChatOutput) error {
	return s.store.AppendTurns(ctx, []domain.Turn{
		{UserID: userID, Role: domain.RoleUser, Message: message},
		{
			UserID:        userID,
			Role:          domain.RoleAssistant,
			Message:       out.Reply,
			UsedTool:      out.ToolUsed,
			ToolComponent: out.ToolComponent,
		},
	})
}
