package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"grindset-agent/handler"
	"grindset-agent/internal/integrations/gemini"
	"grindset-agent/internal/integrations/openai"
	"grindset-agent/internal/integrations/paramstore"
	"grindset-agent/internal/integrations/tavily"
	"grindset-agent/internal/logging"
	"grindset-agent/internal/repository"
	"grindset-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	logger := logging.New(os.Stdout, os.Getenv("LOG_LEVEL"))
	slog.SetDefault(logger)

	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	provider := strings.ToLower(envString("LLM_PROVIDER", "gemini"))
	contextTurns := envInt("CHAT_CONTEXT_TURNS", 5)
	maxMessageLen := envInt("MAX_MESSAGE_LENGTH", 2000)
	callTimeout := time.Duration(envInt("EXTERNAL_CALL_TIMEOUT_SECONDS", 30)) * time.Second
	defaultUserID := os.Getenv("DEFAULT_USER_ID")

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		fatal("failed to load AWS config", err)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		fatal("failed to create SSM client", err)
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(cfg), stateTable)
	if err != nil {
		fatal("failed to create state client", err)
	}

	llm, err := newLLM(provider, ssmClient, paramPrefix)
	if err != nil {
		fatal("failed to create language model client", err, "provider", provider)
	}

	searchClient, err := tavily.NewClient(ssmClient, paramPrefix)
	if err != nil {
		fatal("failed to create search client", err)
	}

	// ---- Usecases ----
	chatService, err := usecase.NewChatService(store, llm, usecase.NewToolRegistry(store, store, searchClient), usecase.ChatConfig{
		ContextTurns:     contextTurns,
		MaxMessageLength: maxMessageLen,
		CallTimeout:      callTimeout,
	})
	if err != nil {
		fatal("failed to create chat service", err)
	}

	goalService, err := usecase.NewGoalService(store, llm, callTimeout)
	if err != nil {
		fatal("failed to create goal service", err)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(chatService, goalService,
		handler.WithDefaultUserID(defaultUserID),
		handler.WithLogger(logger),
	)
	if err != nil {
		fatal("failed to create handler", err)
	}

	logger.Info("starting", "provider", provider, "context_turns", contextTurns)
	lambda.Start(h.Handle)
}

func newLLM(provider string, ps paramstore.Getter, paramPrefix string) (usecase.LLMClient, error) {
	switch provider {
	case "openai":
		return openai.NewClient(ps, paramPrefix)
	case "gemini":
		return gemini.NewClient(ps, paramPrefix)
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", provider)
	}
}

func fatal(msg string, err error, args ...any) {
	slog.Error(msg, append([]any{"err", err}, args...)...)
	os.Exit(1)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("ignoring invalid integer environment variable", "key", key, "value", v)
		return def
	}
	return n
}
