package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"grindset-agent/internal/domain"
	"grindset-agent/internal/integrations/tavily"
	"grindset-agent/internal/logging"
)

const noSearchResults = "No relevant web results found."

// ToolHandler fetches the payload handed to the model for one tool.
type ToolHandler func(ctx context.Context, user domain.UserContext, message string) (string, error)

type TaskLister interface {
	ListTasks(ctx context.Context, userID string) ([]domain.Task, error)
}

type GoalLister interface {
	ListGoals(ctx context.Context, userID string) ([]domain.Goal, error)
}

type Searcher interface {
	Search(ctx context.Context, query string) (tavily.SearchResult, error)
}

// NewToolRegistry wires the built-in tools. A nil dependency leaves its tool
// unregistered.
func NewToolRegistry(tasks TaskLister, goals GoalLister, search Searcher) map[domain.ToolName]ToolHandler {
	reg := make(map[domain.ToolName]ToolHandler, len(domain.Tools))
	if tasks != nil {
		reg[domain.ToolTasks] = func(ctx context.Context, user domain.UserContext, _ string) (string, error) {
			list, err := tasks.ListTasks(ctx, user.UserID)
			if err != nil {
				return "", err
			}
			return encodePayload(list)
		}
	}
	if goals != nil {
		reg[domain.ToolGoals] = func(ctx context.Context, user domain.UserContext, _ string) (string, error) {
			list, err := goals.ListGoals(ctx, user.UserID)
			if err != nil {
				return "", err
			}
			return encodePayload(list)
		}
	}
	if search != nil {
		reg[domain.ToolSearch] = func(ctx context.Context, _ domain.UserContext, message string) (string, error) {
			res, err := search.Search(ctx, message)
			if err != nil {
				return "", err
			}
			return searchSummary(res), nil
		}
	}
	return reg
}

func encodePayload[T any](items []T) (string, error) {
	if items == nil {
		items = []T{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("usecase: encode tool payload: %w", err)
	}
	return string(b), nil
}

// searchSummary prefers the synthesized answer, then the first non-blank hit.
func searchSummary(res tavily.SearchResult) string {
	if answer := strings.TrimSpace(res.Answer); answer != "" {
		return answer
	}
	for _, r := range res.Results {
		if content := strings.TrimSpace(r.Content); content != "" {
			return content
		}
	}
	return noSearchResults
}

func failurePayload(name domain.ToolName) string {
	if name == domain.ToolSearch {
		return noSearchResults
	}
	return fmt.Sprintf("Tool %q is unavailable right now.", string(name))
}

var errNoHandler = errors.New("usecase: no handler registered")

type dispatcher struct {
	handlers map[domain.ToolName]ToolHandler
	timeout  time.Duration
}

// dispatch runs every requested tool concurrently and returns one payload per
// tool. A failed tool gets its sentinel payload; dispatch itself never fails.
func (d *dispatcher) dispatch(ctx context.Context, user domain.UserContext, message string, tools []domain.ToolName) map[domain.ToolName]string {
	results := make(map[domain.ToolName]string, len(tools))
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, name := range tools {
		g.Go(func() error {
			payload, err := d.run(ctx, user, message, name)
			if err != nil {
				logging.FromContext(ctx).Warn("tool_failure", "tool", string(name), "user_id", user.UserID, "err", err)
				payload = failurePayload(name)
			}
			mu.Lock()
			results[name] = payload
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *dispatcher) run(ctx context.Context, user domain.UserContext, message string, name domain.ToolName) (payload string, err error) {
	handler, ok := d.handlers[name]
	if !ok || handler == nil {
		return "", fmt.Errorf("%w for tool %q", errNoHandler, string(name))
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("usecase: tool %q panicked: %v", string(name), r)
		}
	}()
	return callExternal(ctx, d.timeout, func(ctx context.Context) (string, error) {
		return handler(ctx, user, message)
	})
}
