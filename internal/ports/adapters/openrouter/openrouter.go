package openrouter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/forPelevin/autoshort/internal/ports/adapters/endpoint"
)

const (
	requestTimeout = 90 * time.Second
	maxTokens      = 500
	DefaultModel   = "openai/gpt-4o"
)

// Endpoint restricts where the API key may be sent.
var Endpoint = endpoint.Policy{
	Var:          "OPENROUTER_BASE_URL",
	HostsVar:     "OPENROUTER_ALLOWED_HOSTS",
	Default:      "https://openrouter.ai",
	DefaultHosts: []string{"openrouter.ai", "api.openrouter.ai"},
}

func ValidateBaseURL(baseURL string, allowedHosts []string) error {
	return Endpoint.Validate(baseURL, allowedHosts)
}

type Adapter struct {
	key      string
	model    string
	keywords []string
	client   openai.Client
}

// New builds a script writer talking to an OpenAI-compatible chat endpoint.
// keywords are the sound effect keywords the script may use.
func New(apiKey, model, baseURL string, keywords []string) *Adapter {
	if model == "" {
		model = DefaultModel
	}
	baseURL = Endpoint.Normalize(baseURL)
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL+"/api/v1/"),
		option.WithHTTPClient(&http.Client{Timeout: 5 * time.Minute}),
		option.WithMaxRetries(1),
		option.WithHeader("X-Title", "autoshort"),
	)
	return &Adapter{key: apiKey, model: model, keywords: keywords, client: client}
}

func (a *Adapter) WriteScript(ctx context.Context, brief string) (string, error) {
	brief = strings.TrimSpace(brief)
	if brief == "" {
		return "", errors.New("openrouter: empty content description")
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := a.client.Chat.Completions.New(reqCtx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(buildPrompt(brief, a.keywords)),
		},
		Model:       a.model,
		MaxTokens:   openai.Int(maxTokens),
		Temperature: openai.Float(0.8),
	})
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("openrouter timeout after %s (model=%s): %w", requestTimeout, a.model, context.DeadlineExceeded)
		}
		return "", fmt.Errorf("openrouter: %s", truncate(redactSecrets(err.Error(), a.key), 400))
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openrouter: no choices returned")
	}
	script := stripCodeFences(resp.Choices[0].Message.Content)
	if script == "" {
		return "", errors.New("openrouter: empty content")
	}
	return script, nil
}

const systemPrompt = "You write scripts for vertical short-form videos. Reply with the script only, no commentary."

func buildPrompt(brief string, keywords []string) string {
	var b strings.Builder
	b.WriteString("Write a script for a 30-60 second YouTube short based on this description:\n")
	b.WriteString(brief)
	b.WriteString("\n\nThe script must:\n")
	b.WriteString("- open with a strong hook\n")
	b.WriteString("- be dynamic and build suspense\n")
	b.WriteString("- be split into segments of 5-10 seconds, one segment per line\n")
	b.WriteString("- start every line with its duration range in seconds, like [5-8]\n")
	if len(keywords) > 0 {
		b.WriteString("- include 3-5 sound effects, each as a bracket cue on its line, like [SFX: ")
		b.WriteString(keywords[0])
		b.WriteString("], using only these words: ")
		b.WriteString(strings.Join(keywords, ", "))
		b.WriteString("\n")
	}
	return b.String()
}

func stripCodeFences(s string) string {
	t := strings.TrimSpace(s)
	if strings.HasPrefix(t, "```") {
		if i := strings.Index(t, "\n"); i >= 0 {
			t = t[i+1:]
		} else {
			t = ""
		}
		if j := strings.LastIndex(t, "```"); j >= 0 {
			t = t[:j]
		}
	}
	return strings.TrimSpace(t)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var (
	bearerTokenRE = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._-]+\b`)
	authHeaderRE  = regexp.MustCompile(`(?i)(authorization\s*[:=]\s*)([^\n\r,;]+)`)
	apiKeyFieldRE = regexp.MustCompile(`(?i)(api[_-]?key\s*[:=]\s*)([^\n\r,;]+)`)
)

func redactSecrets(s, apiKey string) string {
	if s == "" {
		return s
	}
	out := s
	if apiKey != "" {
		out = strings.ReplaceAll(out, apiKey, "[REDACTED]")
	}
	out = bearerTokenRE.ReplaceAllString(out, "Bearer [REDACTED]")
	out = authHeaderRE.ReplaceAllString(out, "${1}[REDACTED]")
	out = apiKeyFieldRE.ReplaceAllString(out, "${1}[REDACTED]")
	return out
}
