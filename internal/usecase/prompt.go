package usecase

import (
	"fmt"
	"strings"
	"time"

	"grindset-agent/internal/domain"
)

const groundingInstruction = "Using the above tool results, answer the user's original question as helpfully as possible. " +
	`Respond in JSON with a single key "response" holding your reply.`

func classifierInstruction(now time.Time) string {
	return strings.Join([]string{
		"You are the assistant for grindset, a goal tracking app.",
		fmt.Sprintf("Today's date and time is: %s UTC.", now.UTC().Format("1/2/2006, 15:04:05")),
		"",
		"Output Contract:",
		`Always respond in JSON with two keys: "tools_needed" and "response".`,
		`"tools_needed" is an array containing any of "tasks", "goals", "search", or empty.`,
		`"response" is your friendly message to the user.`,
		"",
		"Tool Rules:",
		`1) Use "tasks" only to fetch the user's tasks.`,
		`2) Use "goals" only to fetch the user's goals.`,
		`3) Use "search" only when the request needs information from the web.`,
		`4) If no tool is needed, set "tools_needed": [].`,
		"",
		`Example: {"tools_needed":["tasks"],"response":"Let me check your tasks."}`,
		"Do not use markdown or emojis. Reply in simple, friendly, plain text.",
	}, "\n")
}

// buildClassifierPrompt places the instruction first, then the recent
// conversation, then the new message.
func buildClassifierPrompt(now time.Time, history []domain.PromptTurn, message string) []domain.PromptTurn {
	prompt := make([]domain.PromptTurn, 0, len(history)+2)
	prompt = append(prompt, domain.PromptTurn{Role: domain.PromptRoleUser, Text: classifierInstruction(now)})
	prompt = append(prompt, history...)
	prompt = append(prompt, domain.PromptTurn{Role: domain.PromptRoleUser, Text: message})
	return prompt
}

// buildGroundedPrompt extends the classifier prompt with one model turn per
// tool result, in the order given.
func buildGroundedPrompt(base []domain.PromptTurn, tools []domain.ToolName, results map[domain.ToolName]string) []domain.PromptTurn {
	prompt := make([]domain.PromptTurn, 0, len(base)+len(tools)+1)
	prompt = append(prompt, base...)
	for _, name := range tools {
		prompt = append(prompt, domain.PromptTurn{
			Role: domain.PromptRoleModel,
			Text: fmt.Sprintf("Tool result for %q: %s", string(name), results[name]),
		})
	}
	return append(prompt, domain.PromptTurn{Role: domain.PromptRoleUser, Text: groundingInstruction})
}

// toPromptTurns maps stored turns onto model roles, dropping system turns.
func toPromptTurns(turns []domain.Turn) []domain.PromptTurn {
	out := make([]domain.PromptTurn, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case domain.RoleUser:
			out = append(out, domain.PromptTurn{Role: domain.PromptRoleUser, Text: t.Message})
		case domain.RoleAssistant:
			out = append(out, domain.PromptTurn{Role: domain.PromptRoleModel, Text: t.Message})
		}
	}
	return out
}
