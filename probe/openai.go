package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/petal-labs/vigil/core"
)

const defaultOpenAIEndpoint = "https://api.openai.com/v1/chat/completions"

// openAIProber speaks the OpenAI-compatible protocol: the Chat Completions
// shape by default, or the Responses shape when the configured endpoint
// path ends in /responses.
type openAIProber struct {
	opts Options
}

func (p *openAIProber) Execute(ctx context.Context, cfg core.ProviderConfig, prompt string) (string, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}

	base := deriveBaseURL(endpoint)
	useResponses := strings.HasSuffix(strings.TrimRight(trimQuery(endpoint), "/"), "/responses")

	model, effort := parseReasoningDirective(cfg.Model)

	var callURL string
	body := map[string]any{"model": model}
	if useResponses {
		callURL = base + "/responses"
		body["input"] = prompt
		if effort != "" {
			body["reasoning"] = map[string]any{"effort": effort}
		}
	} else {
		callURL = base + "/chat/completions"
		body["messages"] = []map[string]any{{"role": "user", "content": prompt}}
		if effort != "" {
			body["reasoning_effort"] = effort
		}
	}
	injectMetadata(body, cfg.Metadata)

	forced := map[string]string{
		"Authorization": "Bearer " + cfg.APIKey,
		"Content-Type":  "application/json",
		"Accept":        "application/json",
	}

	raw, err := postJSON(ctx, p.opts.Clients.Get(base, cfg.APIKey), callURL, cfg.Headers, forced, body)
	if err != nil {
		return "", err
	}

	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &ProtocolError{Body: string(raw), Err: fmt.Errorf("decode response: %w", err)}
	}

	var text string
	if useResponses {
		text = responsesText(parsed)
	} else {
		text = chatCompletionText(parsed)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}

// postJSON issues one POST with a JSON body and returns the raw response
// body. Non-2xx statuses become a ProtocolError carrying the body.
func postJSON(ctx context.Context, client HTTPClient, url string, configured map[string]string, forced map[string]string, body map[string]any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("probe: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("probe: build request: %w", err)
	}
	applyHeaders(req.Header, configured, forced)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("probe: read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProtocolError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

func trimQuery(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}

// reasoningModelPattern matches model names that default to "medium"
// reasoning effort when no explicit directive is present.
var reasoningModelPattern = regexp.MustCompile(`^(o[134])([.-]|$)|^gpt-5`)

// parseReasoningDirective splits an optional reasoning-effort directive off
// a model string. The directive is a "@level" or "#level" suffix with level
// one of mini, minimal, low, medium, high. Without a directive, known
// reasoning-model names default to medium effort.
func parseReasoningDirective(model string) (name, effort string) {
	name = model
	if i := strings.LastIndexAny(model, "@#"); i > 0 {
		level := strings.ToLower(strings.TrimSpace(model[i+1:]))
		switch level {
		case "mini", "minimal":
			return model[:i], "low"
		case "low", "medium", "high":
			return model[:i], level
		}
		// Unknown level: keep the full model string untouched.
	}

	if reasoningModelPattern.MatchString(name) {
		return name, "medium"
	}
	return name, ""
}

// chatCompletionText extracts reply text from a Chat Completions response,
// scanning every choice and coercing non-string content parts.
func chatCompletionText(v any) string {
	obj, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	choices, ok := obj["choices"].([]any)
	if !ok {
		return ""
	}

	var sb strings.Builder
	for _, c := range choices {
		choice, ok := c.(map[string]any)
		if !ok {
			continue
		}
		message, ok := choice["message"].(map[string]any)
		if !ok {
			continue
		}
		sb.WriteString(coerceContent(message["content"]))
	}
	return sb.String()
}

// responsesText extracts reply text from a Responses API response. The
// convenience output_text field wins when present; otherwise every output
// message's content parts are scanned.
func responsesText(v any) string {
	obj, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	if s, ok := obj["output_text"].(string); ok && s != "" {
		return s
	}

	output, ok := obj["output"].([]any)
	if !ok {
		return ""
	}

	var sb strings.Builder
	for _, o := range output {
		item, ok := o.(map[string]any)
		if !ok {
			continue
		}
		content, ok := item["content"].([]any)
		if !ok {
			continue
		}
		for _, part := range content {
			p, ok := part.(map[string]any)
			if !ok {
				continue
			}
			if s, ok := p["text"].(string); ok {
				sb.WriteString(s)
			}
		}
	}
	return sb.String()
}

// coerceContent renders a message content value as text. String content is
// used as-is; part arrays are scanned for text fields; other scalar leaves
// are formatted.
func coerceContent(v any) string {
	switch content := v.(type) {
	case string:
		return content
	case []any:
		var sb strings.Builder
		for _, part := range content {
			switch p := part.(type) {
			case string:
				sb.WriteString(p)
			case map[string]any:
				if s, ok := p["text"].(string); ok {
					sb.WriteString(s)
				}
			}
		}
		return sb.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(content)
	}
}

var _ Prober = (*openAIProber)(nil)
