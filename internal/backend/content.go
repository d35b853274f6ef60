package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"tiaapa/internal/domain"
)

// decodeContent converts an answer payload into message content. Strings stay
// text, objects become structured fields in document order, and lists (the
// backend's dataset matches) are rendered one item per line.
func decodeContent(raw json.RawMessage) (domain.Content, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return domain.TextContent(""), nil
	}

	switch raw[0] {
	case '{':
		return decodeFields(raw)
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("decode list answer: %w", err)
		}
		lines := make([]string, 0, len(items))
		for _, item := range items {
			if s := scalarString(item); s != "" {
				lines = append(lines, s)
			}
		}
		return domain.TextContent(strings.Join(lines, "\n")), nil
	default:
		if !json.Valid(raw) {
			return nil, fmt.Errorf("decode answer: invalid JSON value")
		}
		return domain.TextContent(scalarString(raw)), nil
	}
}

func decodeFields(raw json.RawMessage) (domain.StructuredContent, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decode structured answer: %w", err)
	}

	fields := domain.StructuredContent{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode structured answer key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("decode structured answer: unexpected key %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("decode structured answer %q: %w", key, err)
		}
		fields = append(fields, domain.Field{Key: key, Value: scalarString(value)})
	}
	return fields, nil
}

// scalarString renders a JSON value for display: strings unquoted, null as
// empty, everything else as compact JSON.
func scalarString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
