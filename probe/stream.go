package probe

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Maximum line length accepted from a stream. Generous because gateways
// sometimes deliver a whole response as one data line.
const maxStreamLineBytes = 1 << 20

// streamAccumulator merges incrementally produced text fragments. Some
// gateways stream cumulative snapshots (each event repeats everything sent
// so far), others stream true deltas; overlap-aware concatenation handles
// both without duplicating text.
type streamAccumulator struct {
	text string
}

// add merges one fragment into the accumulated text. If one side is a
// prefix of the other, the longer wins; otherwise the fragment is appended.
func (a *streamAccumulator) add(fragment string) {
	if fragment == "" {
		return
	}
	switch {
	case a.text == "":
		a.text = fragment
	case strings.HasPrefix(fragment, a.text):
		a.text = fragment
	case strings.HasPrefix(a.text, fragment):
		// Already have it.
	default:
		a.text += fragment
	}
}

// parseEventStream decodes a streamed response body into reply text. It
// applies Server-Sent-Events framing: "data:" lines accumulate into the
// current event, a blank line flushes it, and "event:"/"id:"/"retry:" and
// comment lines are ignored. Bare JSON and NDJSON lines are tolerated as a
// fallback framing for streams that do not conform.
func parseEventStream(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxStreamLineBytes)

	var acc streamAccumulator
	var event []string

	flush := func() {
		if len(event) == 0 {
			return
		}
		payload := strings.Join(event, "\n")
		event = event[:0]
		acc.add(payloadText(payload))
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			flush()
		case strings.HasPrefix(trimmed, "data:"):
			event = append(event, strings.TrimSpace(strings.TrimPrefix(trimmed, "data:")))
		case strings.HasPrefix(trimmed, "event:"),
			strings.HasPrefix(trimmed, "id:"),
			strings.HasPrefix(trimmed, "retry:"),
			strings.HasPrefix(trimmed, ":"):
			// SSE metadata and comments carry no payload.
		default:
			// Not SSE framing: treat the line as a bare JSON / NDJSON
			// payload of its own.
			flush()
			acc.add(payloadText(trimmed))
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		// Keep whatever text arrived before the stream broke.
		if acc.text != "" {
			return acc.text, nil
		}
		return "", fmt.Errorf("probe: read stream: %w", err)
	}
	return acc.text, nil
}

// payloadText parses one flushed event payload and extracts its reply
// text. The literal "null" keep-alive and the "[DONE]" sentinel are
// skipped; anything unparseable contributes nothing.
func payloadText(payload string) string {
	payload = strings.TrimSpace(payload)
	if payload == "" || payload == "null" || payload == "[DONE]" {
		return ""
	}

	var v any
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return ""
	}
	return candidateText(v)
}

// candidateText scans a parsed Gemini payload for reply text: every
// candidate's content parts are visited, non-string leaf values are
// coerced to strings, and empty parts are skipped. Arrays of chunks (the
// non-SSE JSON body of streamGenerateContent) are walked element-wise.
func candidateText(v any) string {
	switch value := v.(type) {
	case []any:
		var acc streamAccumulator
		for _, elem := range value {
			acc.add(candidateText(elem))
		}
		return acc.text
	case map[string]any:
		candidates, ok := value["candidates"].([]any)
		if !ok {
			return ""
		}
		var sb strings.Builder
		for _, c := range candidates {
			candidate, ok := c.(map[string]any)
			if !ok {
				continue
			}
			content, ok := candidate["content"].(map[string]any)
			if !ok {
				continue
			}
			parts, ok := content["parts"].([]any)
			if !ok {
				continue
			}
			for _, part := range parts {
				p, ok := part.(map[string]any)
				if !ok {
					continue
				}
				sb.WriteString(partText(p["text"]))
			}
		}
		return sb.String()
	default:
		return ""
	}
}

// partText renders one content-part leaf as text, coercing non-string
// scalars and skipping empty or structured values.
func partText(v any) string {
	switch leaf := v.(type) {
	case string:
		return leaf
	case float64, bool, json.Number:
		return fmt.Sprint(leaf)
	default:
		return ""
	}
}
