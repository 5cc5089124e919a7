// Package aggregate derives per-chat and per-contact interaction facts from extracted
// Botmaker records. It performs no I/O.
package aggregate

import (
	"strings"
	"time"

	"github.com/MikeSquared-Agency/ferry/internal/botmaker"
)

// Result holds the derived enrichment maps. Timestamps are normalized ISO-8601 strings.
type Result struct {
	ChatLastInteraction    map[string]string
	ContactLastInteraction map[string]string

	ChatPriority    map[string]bool
	ContactPriority map[string]bool

	ChatLastAgentID    map[string]string
	ChatLastAgentAt    map[string]string
	ContactLastAgentID map[string]string
	ContactLastAgentAt map[string]string
}

// ChannelMatcher decides whether a channel id belongs to the priority channel.
type ChannelMatcher func(channelID string) bool

// SubstringMatcher matches channel ids containing needle, ignoring case. An empty needle
// matches nothing.
func SubstringMatcher(needle string) ChannelMatcher {
	needle = strings.ToLower(strings.TrimSpace(needle))
	return func(channelID string) bool {
		return needle != "" && strings.Contains(strings.ToLower(channelID), needle)
	}
}

// Build computes the enrichment maps for one run.
func Build(chats []botmaker.Chat, messages []botmaker.Message, isPriority ChannelMatcher) Result {
	r := Result{
		ChatLastInteraction:    make(map[string]string),
		ContactLastInteraction: make(map[string]string),
		ChatPriority:           make(map[string]bool),
		ContactPriority:        make(map[string]bool),
		ChatLastAgentID:        make(map[string]string),
		ChatLastAgentAt:        make(map[string]string),
		ContactLastAgentID:     make(map[string]string),
		ContactLastAgentAt:     make(map[string]string),
	}
	if isPriority == nil {
		isPriority = func(string) bool { return false }
	}

	for _, chat := range chats {
		flag := isPriority(chat.ChannelID)
		if chat.ChatID != "" {
			r.ChatPriority[chat.ChatID] = r.ChatPriority[chat.ChatID] || flag
		}
		if chat.ContactID != "" {
			r.ContactPriority[chat.ContactID] = r.ContactPriority[chat.ContactID] || flag
		}
	}

	for _, m := range messages {
		ts, ok := NormalizeTimestamp(m.CreationTime)
		if !ok {
			continue
		}
		advance(r.ChatLastInteraction, m.ChatID, ts)
		advance(r.ContactLastInteraction, m.ContactID, ts)

		if !IsAgentAuthored(m) {
			continue
		}
		if advance(r.ChatLastAgentAt, m.ChatID, ts) {
			r.ChatLastAgentID[m.ChatID] = m.AgentID
		}
		if advance(r.ContactLastAgentAt, m.ContactID, ts) {
			r.ContactLastAgentID[m.ContactID] = m.AgentID
		}
	}
	return r
}

// IsAgentAuthored reports whether an agent acted on the message: the sender is "agent",
// or the message carries an agent id and the sender is not explicitly "user".
func IsAgentAuthored(m botmaker.Message) bool {
	sender := strings.ToLower(strings.TrimSpace(m.Sender))
	if sender == "agent" {
		return true
	}
	return m.AgentID != "" && sender != "user"
}

// Accepted ISO-8601 date-times. Fractional seconds are allowed by all of them.
const (
	layoutColonOffset = "2006-01-02T15:04:05Z07:00"
	layoutBareOffset  = "2006-01-02T15:04:05Z0700"
	layoutNoOffset    = "2006-01-02T15:04:05"
)

// NormalizeTimestamp rewrites an ISO-8601 date-time so that values compare lexically:
// a trailing Z becomes +00:00, a ±hhmm offset becomes ±hh:mm and a value without an
// offset is taken as UTC. Anything that does not parse is rejected.
func NormalizeTimestamp(raw string) (string, bool) {
	ts := strings.TrimSpace(raw)
	if ts == "" {
		return "", false
	}
	if strings.HasSuffix(ts, "Z") || strings.HasSuffix(ts, "z") {
		ts = ts[:len(ts)-1] + "+00:00"
	}
	if _, err := time.Parse(layoutColonOffset, ts); err == nil {
		return ts, true
	}
	if _, err := time.Parse(layoutBareOffset, ts); err == nil {
		return ts[:len(ts)-2] + ":" + ts[len(ts)-2:], true
	}
	if _, err := time.Parse(layoutNoOffset, ts); err == nil {
		return ts + "+00:00", true
	}
	return "", false
}

// advance stores ts under key when it is strictly later than the current value.
func advance(m map[string]string, key, ts string) bool {
	if key == "" {
		return false
	}
	if cur, ok := m[key]; ok && ts <= cur {
		return false
	}
	m[key] = ts
	return true
}
