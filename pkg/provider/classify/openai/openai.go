// Package openai provides a [classify.Provider] backed by the OpenAI chat
// completions API. A single constrained completion maps the model's yes/no
// answer onto a [classify.Verdict].
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/parleyhq/parley/pkg/provider/classify"
)

// Compile-time interface check.
var _ classify.Provider = (*Provider)(nil)

const defaultModel = "gpt-4o-mini"

// systemPrompt constrains the model to a bare yes/no verdict. "yes" means the
// utterance is a discrete assistant command (reminder, task, timer, list item);
// "no" means it is open-ended conversation.
const systemPrompt = `You classify a single spoken utterance from a voice assistant user.
Answer with exactly one word.
Answer "yes" if the utterance is a discrete command to create, complete or delete a reminder or task, set a timer, or add an item to a list.
Answer "no" for anything else, including questions, small talk, and requests that need a conversational answer.`

// config holds optional configuration for the provider.
type config struct {
	model   string
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel overrides the default classification model.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout. The orchestrator applies its
// own hard deadline as well; this is a safety net below it.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Provider implements [classify.Provider] using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// New constructs an OpenAI-backed classifier.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: cfg.model}, nil
}

// Classify implements [classify.Provider].
func (p *Provider) Classify(ctx context.Context, text string) (classify.Verdict, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage(text),
		},
		MaxCompletionTokens: param.NewOpt(int64(3)),
		Temperature:         param.NewOpt(0.0),
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: classify: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: classify: empty choices in response")
	}

	return parseVerdict(resp.Choices[0].Message.Content)
}

// parseVerdict maps the model's answer to a verdict. Anything that does not
// clearly start with yes/no is an error so the caller's fallback policy
// applies rather than a misread guess.
func parseVerdict(answer string) (classify.Verdict, error) {
	normalized := strings.ToLower(strings.TrimSpace(answer))
	normalized = strings.Trim(normalized, `."'!`)
	switch {
	case strings.HasPrefix(normalized, "yes"):
		return classify.VerdictCommand, nil
	case strings.HasPrefix(normalized, "no"):
		return classify.VerdictConversation, nil
	}
	return "", fmt.Errorf("openai: classify: unparseable verdict %q", answer)
}
