package chatwoot

import (
	"encoding/json"
	"strconv"
	"strings"
)

// idStrategy recovers an id from one known response shape.
type idStrategy struct {
	name string
	find func(doc any) (int64, bool)
}

// idStrategies are tried in order; the first hit wins. Chatwoot answers entity creation
// with the bare object for conversations and messages, but wraps contacts as
// {"payload":{"contact":{...}}} and some proxies add data/items envelopes.
var idStrategies = []idStrategy{
	{"id", func(doc any) (int64, bool) { return idAt(doc, "id") }},
	{"payload.contact.id", func(doc any) (int64, bool) { return idAt(doc, "payload", "contact", "id") }},
	{"payload.conversation.id", func(doc any) (int64, bool) { return idAt(doc, "payload", "conversation", "id") }},
	{"payload.id", func(doc any) (int64, bool) { return idAt(doc, "payload", "id") }},
	{"data.id", func(doc any) (int64, bool) { return idAt(doc, "data", "id") }},
	{"items[0].id", func(doc any) (int64, bool) { return firstID(field(doc, "items")) }},
	{"payload[0].id", func(doc any) (int64, bool) { return firstID(field(doc, "payload")) }},
	{"data[0].id", func(doc any) (int64, bool) { return firstID(field(doc, "data")) }},
	{"[0].id", firstID},
}

// ExtractID returns the destination id carried by a creation response body, and the
// name of the strategy that found it.
func ExtractID(body []byte) (int64, string, bool) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return 0, "", false
	}
	for _, s := range idStrategies {
		if id, ok := s.find(doc); ok {
			return id, s.name, true
		}
	}
	return 0, "", false
}

func field(doc any, key string) any {
	m, ok := doc.(map[string]any)
	if !ok {
		return nil
	}
	return m[key]
}

func idAt(doc any, path ...string) (int64, bool) {
	cur := doc
	for _, key := range path {
		cur = field(cur, key)
		if cur == nil {
			return 0, false
		}
	}
	return toID(cur)
}

func firstID(doc any) (int64, bool) {
	list, ok := doc.([]any)
	if !ok || len(list) == 0 {
		return 0, false
	}
	return idAt(list[0], "id")
}

// toID accepts JSON numbers and numeric strings. Zero and negative values are not ids.
func toID(v any) (int64, bool) {
	switch x := v.(type) {
	case float64:
		if x <= 0 || x != float64(int64(x)) {
			return 0, false
		}
		return int64(x), true
	case json.Number:
		n, err := x.Int64()
		return n, err == nil && n > 0
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil && n > 0
	default:
		return 0, false
	}
}
