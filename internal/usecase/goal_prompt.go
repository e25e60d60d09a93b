package usecase

import (
	"fmt"
	"strings"

	"grindset-agent/internal/domain"
)

type progress struct {
	completed int
	total     int
}

func goalSummary(g domain.Goal) string {
	return strings.Join([]string{
		fmt.Sprintf("The user has set a goal: %q", g.Title),
		fmt.Sprintf("Description: %q", g.Description),
		fmt.Sprintf("Target Outcome: %q", g.TargetOutcome),
		fmt.Sprintf("They can already: %q", g.ExistingCapabilities),
	}, "\n")
}

// feasibilityPrompt asks for {"feasible", "reason"}. Progress is included
// when known.
func feasibilityPrompt(g domain.Goal, p *progress) string {
	lines := []string{
		goalSummary(g),
		fmt.Sprintf("Timeline: %d days", g.DurationDays),
	}
	question := "Is this goal realistically possible for the user to achieve in the given timeline?"
	if p != nil {
		lines = append(lines, "", fmt.Sprintf("Progress so far: %d of %d tasks completed.", p.completed, p.total))
		question = "Is this goal realistically possible for the user to achieve in the given timeline, considering their progress so far?"
	}
	return strings.Join(append(lines,
		"",
		question,
		`Respond with a JSON: { "feasible": true/false, "reason": "short explanation why or why not" }`,
	), "\n")
}

func firstTaskPrompt(g domain.Goal) string {
	return strings.Join([]string{
		"You are a strict coach helping the user achieve their goal.",
		goalSummary(g),
		"",
		"Generate ONE concrete, actionable task the user must do today to begin making measurable progress.",
		"",
		taskFieldRules(),
	}, "\n")
}

func nextTaskPrompt(g domain.Goal, last domain.Task, feedback string) string {
	return strings.Join([]string{
		"You are a strict coach helping the user achieve their goal.",
		goalSummary(g),
		"",
		fmt.Sprintf("The last completed task was: %q", last.TaskText),
		fmt.Sprintf("Task Description: %q", last.Description),
		fmt.Sprintf("User feedback on this task: %q", feedback),
		"",
		"Based on this, generate ONE next actionable task for the user to do next toward their goal.",
		"",
		taskFieldRules(),
	}, "\n")
}

func taskFieldRules() string {
	return strings.Join([]string{
		"Requirements:",
		"- task_text: 6-8 direct words, like a clear title or command.",
		"- reason: 1 sentence on how this task moves the user closer to the goal.",
		"- description: 10-12 words instructing exactly what to do. Only action.",
		"",
		`Return ONLY valid JSON with keys "task_text", "reason", "description".`,
	}, "\n")
}
