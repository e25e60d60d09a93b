package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"google.golang.org/genai"

	"grindset-agent/internal/domain"
	"grindset-agent/internal/integrations/paramstore"
)

const defaultModel = "gemini-2.5-flash"

// modelsAPI is the subset of genai.Models used by Client.
// client.Models from google.golang.org/genai satisfies this interface.
type modelsAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// factory builds the genai backend once the API key is known.
type factory func(ctx context.Context, apiKey string) (modelsAPI, error)

func newGenAIModels(ctx context.Context, apiKey string) (modelsAPI, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return client.Models, nil
}

// Client generates text with Gemini. The API key and model name live in the
// parameter store and are resolved on first use.
type Client struct {
	getter      paramstore.Getter
	paramPrefix string
	newModels   factory
	temperature *float32

	mu     sync.Mutex
	models modelsAPI
	model  string
}

type Option func(*Client)

// WithModel pins the model instead of reading it from the parameter store.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = strings.TrimSpace(model)
	}
}

func WithTemperature(t float32) Option {
	return func(c *Client) {
		c.temperature = genai.Ptr(t)
	}
}

// withModelsAPI injects a backend, bypassing key resolution. Used by tests.
func withModelsAPI(m modelsAPI) Option {
	return func(c *Client) {
		c.newModels = func(context.Context, string) (modelsAPI, error) { return m, nil }
	}
}

func NewClient(ps paramstore.Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("gemini: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("gemini: parameter prefix must not be empty")
	}
	c := &Client{
		getter:      ps,
		paramPrefix: paramPrefix,
		newModels:   newGenAIModels,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/gemini-api-key"
}

func (c *Client) modelParameterName() string {
	return c.paramPrefix + "/config/gemini_model"
}

// backend returns the genai backend and model, building them on first success.
// Failures are not cached, so the next request tries again.
func (c *Client) backend(ctx context.Context) (modelsAPI, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.models != nil {
		return c.models, c.model, nil
	}

	if c.model == "" {
		// An absent model parameter selects defaultModel; other SSM errors fail.
		model, err := c.getter.GetParameter(ctx, c.modelParameterName())
		var notFound *ssmtypes.ParameterNotFound
		if err != nil && !errors.As(err, &notFound) {
			return nil, "", fmt.Errorf("gemini: load model: %w", err)
		}
		c.model = strings.TrimSpace(model)
		if c.model == "" {
			c.model = defaultModel
		}
	}

	apiKey, err := paramstore.Token(ctx, c.getter, c.tokenParameterName())
	if err != nil {
		return nil, "", fmt.Errorf("gemini: %w", err)
	}
	models, err := c.newModels(ctx, apiKey)
	if err != nil {
		return nil, "", err
	}
	c.models = models
	return c.models, c.model, nil
}

// toContents maps prompt turns onto genai contents; roles already use the
// Gemini vocabulary.
func toContents(turns []domain.PromptTurn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := genai.RoleUser
		if t.Role == domain.PromptRoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Text, genai.Role(role)))
	}
	return contents
}

// Generate sends the prompt turns as one generateContent call and returns the text.
func (c *Client) Generate(ctx context.Context, turns []domain.PromptTurn) (string, error) {
	models, model, err := c.backend(ctx)
	if err != nil {
		return "", err
	}

	var cfg *genai.GenerateContentConfig
	if c.temperature != nil {
		cfg = &genai.GenerateContentConfig{Temperature: c.temperature}
	}
	resp, err := models.GenerateContent(ctx, model, toContents(turns), cfg)
	if err != nil {
		if code, ok := apiStatusCode(err); ok {
			err = &StatusError{StatusCode: code, Err: err}
		}
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("gemini: no candidates in response")
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", errors.New("gemini: empty response text")
	}
	return text, nil
}

// StatusError exposes the HTTP status of a failed genai call so callers can
// classify it without importing genai.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %v", e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

func apiStatusCode(err error) (int, bool) {
	var v genai.APIError
	if errors.As(err, &v) {
		return v.Code, true
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil {
		return p.Code, true
	}
	return 0, false
}
