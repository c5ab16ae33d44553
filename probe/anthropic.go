package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/petal-labs/vigil/core"
)

const (
	defaultAnthropicEndpoint = "https://api.anthropic.com/v1/messages"
	anthropicVersion         = "2023-06-01"
	anthropicMaxTokens       = 256
)

// anthropicProber speaks the Anthropic Messages protocol. It shares the
// base-URL derivation and header/metadata injection of the OpenAI adapter
// but never attaches a reasoning-effort option; the variant does not
// support one.
type anthropicProber struct {
	opts Options
}

func (p *anthropicProber) Execute(ctx context.Context, cfg core.ProviderConfig, prompt string) (string, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultAnthropicEndpoint
	}
	base := deriveBaseURL(endpoint)
	callURL := base + "/messages"

	// A reasoning directive on the model string is stripped, not sent.
	model, _ := parseReasoningDirective(cfg.Model)

	body := map[string]any{
		"model":      model,
		"max_tokens": anthropicMaxTokens,
		"messages":   []map[string]any{{"role": "user", "content": prompt}},
	}
	injectMetadata(body, cfg.Metadata)

	forced := map[string]string{
		"x-api-key":         cfg.APIKey,
		"anthropic-version": anthropicVersion,
		"Content-Type":      "application/json",
		"Accept":            "application/json",
	}

	raw, err := postJSON(ctx, p.opts.Clients.Get(base, cfg.APIKey), callURL, cfg.Headers, forced, body)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &ProtocolError{Body: string(raw), Err: fmt.Errorf("decode response: %w", err)}
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "" || block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrEmptyReply
	}
	return sb.String(), nil
}

var _ Prober = (*anthropicProber)(nil)
