package domain

// Model-side roles understood by the language model integrations.
const (
	PromptRoleUser  = "user"
	PromptRoleModel = "model"
)

// PromptTurn is the provider-agnostic message shape sent to a language model.
// Role is either PromptRoleUser or PromptRoleModel.
type PromptTurn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// UserContext identifies the user a request acts on behalf of.
type UserContext struct {
	UserID string
}
