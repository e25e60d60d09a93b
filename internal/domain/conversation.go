package domain

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ToolName names a data source the assistant may consult.
type ToolName string

const (
	ToolTasks  ToolName = "tasks"
	ToolGoals  ToolName = "goals"
	ToolSearch ToolName = "search"
)

// Tools lists every known tool in canonical order.
var Tools = []ToolName{ToolTasks, ToolGoals, ToolSearch}

// ParseToolName reports whether s is a known tool.
func ParseToolName(s string) (ToolName, bool) {
	for _, t := range Tools {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

var toolLabels = map[ToolName]string{
	ToolTasks:  "Tasks",
	ToolGoals:  "Goals",
	ToolSearch: "Web Search",
}

// Component returns the display hint recorded when the tool is used,
// e.g. {search, "Using Web Search Tool"}.
func (t ToolName) Component() ToolComponent {
	label, ok := toolLabels[t]
	if !ok {
		label = string(t)
	}
	return ToolComponent{Type: t, Label: "Using " + label + " Tool"}
}

// ToolComponent is the display hint attached to turns that used a tool.
type ToolComponent struct {
	Type  ToolName `json:"type"`
	Label string   `json:"label"`
}

// Turn is a single persisted conversation message.
type Turn struct {
	ID            string
	UserID        string
	Role          Role
	Message       string
	CreatedAt     time.Time
	UsedTool      *ToolName
	ToolComponent *ToolComponent
}
