package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/petal-labs/vigil/core"
)

const (
	defaultGeminiBase = "https://generativelanguage.googleapis.com/v1beta/models"

	streamAction   = "streamGenerateContent"
	generateAction = "generateContent"

	geminiMaxOutputTokens = 256
)

// geminiProber speaks the Gemini streaming REST protocol directly, with no
// compatibility shim. It first calls the streaming action; if that yields
// no usable text it retries exactly once against the non-streaming action
// on the same resolved base. Two attempts, no backoff.
type geminiProber struct {
	opts Options
}

func (p *geminiProber) Execute(ctx context.Context, cfg core.ProviderConfig, prompt string) (string, error) {
	streamURL, fallbackURL, err := resolveGeminiURLs(cfg.Endpoint, cfg.Model)
	if err != nil {
		return "", err
	}

	client := p.opts.Clients.Get(deriveBaseURL(cfg.Endpoint), cfg.APIKey)

	text, streamErr := p.call(ctx, client, cfg, streamURL, prompt)
	if streamErr == nil && strings.TrimSpace(text) != "" {
		return text, nil
	}
	if ctx.Err() != nil {
		// The deadline fired; a second attempt could not succeed.
		if streamErr != nil {
			return "", streamErr
		}
		return "", ctx.Err()
	}
	if fallbackURL == "" || fallbackURL == streamURL {
		if streamErr != nil {
			return "", streamErr
		}
		return "", ErrEmptyReply
	}

	text, fallbackErr := p.call(ctx, client, cfg, fallbackURL, prompt)
	if fallbackErr != nil {
		return "", fallbackErr
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}

// call performs one POST against a resolved action URL and parses the
// response according to its content type.
func (p *geminiProber) call(ctx context.Context, client HTTPClient, cfg core.ProviderConfig, url, prompt string) (string, error) {
	body := map[string]any{
		"contents": []map[string]any{
			{
				"role":  "user",
				"parts": []map[string]any{{"text": prompt}},
			},
		},
		"generationConfig": map[string]any{
			"temperature":     0,
			"maxOutputTokens": geminiMaxOutputTokens,
		},
	}
	injectMetadata(body, cfg.Metadata)

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("probe: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("probe: build request: %w", err)
	}
	applyHeaders(req.Header, cfg.Headers, map[string]string{
		"x-goog-api-key": cfg.APIKey,
		"Content-Type":   "application/json",
	})

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxStreamLineBytes))
		return "", &ProtocolError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if isEventStream(resp.Header.Get("Content-Type")) {
		return parseEventStream(resp.Body)
	}

	// Non-stream JSON body: parse directly, and fall back to the
	// line-scanning parser when the body is not a single JSON document.
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("probe: read response body: %w", err)
	}

	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return parseEventStream(bytes.NewReader(raw))
	}
	return candidateText(parsed), nil
}

func isEventStream(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/event-stream"
}

// resolveGeminiURLs resolves the streaming call URL and its non-streaming
// fallback. A fully-qualified action URL is used as-is; a base ending in
// .../v1beta/models gets "/{model}:streamGenerateContent" appended; an
// empty endpoint uses the public Gemini API base.
func resolveGeminiURLs(endpoint, model string) (streamURL, fallbackURL string, err error) {
	clean := strings.TrimRight(trimQuery(endpoint), "/")
	if clean == "" {
		clean = defaultGeminiBase
	}

	if i := strings.LastIndexByte(clean, ':'); i > strings.LastIndexByte(clean, '/') {
		// Already a fully-qualified action URL.
		action := clean[i+1:]
		base := clean[:i]
		switch action {
		case streamAction:
			return clean, base + ":" + generateAction, nil
		case generateAction:
			return clean, "", nil
		default:
			return clean, "", nil
		}
	}

	if !strings.HasSuffix(clean, "/models") {
		return "", "", errors.New("probe: gemini endpoint must be an action URL or end in /v1beta/models")
	}
	if model == "" {
		return "", "", errors.New("probe: gemini model is required")
	}

	resource := clean + "/" + model
	return resource + ":" + streamAction + "?alt=sse", resource + ":" + generateAction, nil
}

var _ Prober = (*geminiProber)(nil)
