package reconcile

import (
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/ferry/internal/aggregate"
	"github.com/MikeSquared-Agency/ferry/internal/botmaker"
)

// Custom attribute keys written during enrichment.
const (
	AttrPriorityChannel   = "bm_priority_channel"
	AttrLastInteractionAt = "bm_last_interaction_at"
	AttrLastAgentID       = "bm_last_agent_id"
	AttrLastAgentAt       = "bm_last_agent_at"
)

// ContactPayload builds the Chatwoot contact body. Empty values are dropped at both
// levels so the destination never sees blank fields.
func ContactPayload(c botmaker.Contact) map[string]any {
	name := strings.TrimSpace(strings.Join(nonEmpty(c.FirstName, c.LastName), " "))
	if name == "" {
		name = c.ContactID
	}
	payload := map[string]any{
		"name":       name,
		"identifier": c.ContactID,
		"email":      c.Email,
		"custom_attributes": compact(map[string]any{
			"botmaker_channel_id":  c.ChannelID,
			"botmaker_chat_id":     c.ChatID,
			"botmaker_external_id": c.ExternalID,
			"botmaker_tags":        c.Tags,
			"botmaker_variables":   c.Variables,
			"botmaker_inserted_at": c.InsertedAt,
		}),
	}
	if isDigits(c.ContactID) {
		payload["phone_number"] = "+" + c.ContactID
	}
	return compact(payload)
}

// ConversationPayload builds the Chatwoot conversation body for chat.
func ConversationPayload(chat botmaker.Chat, inboxID, contactID int64, facts aggregate.Result) map[string]any {
	attrs := map[string]any{
		"botmaker_chat_id":           chat.ChatID,
		"botmaker_contact_id":        chat.ContactID,
		"botmaker_channel_id":        chat.ChannelID,
		"botmaker_queue_id":          chat.QueueID,
		"botmaker_agent_id":          chat.AgentID,
		"botmaker_tags":              chat.Tags,
		"botmaker_variables":         chat.Variables,
		"botmaker_creation_time":     chat.CreationTime,
		"botmaker_last_user_message": chat.LastUserMessageDatetime,
	}
	for k, v := range ChatAttributes(chat.ChatID, facts) {
		attrs[k] = v
	}
	return compact(map[string]any{
		"source_id":             chat.ChatID,
		"inbox_id":              inboxID,
		"contact_id":            contactID,
		"additional_attributes": compact(attrs),
	})
}

// MessagePayload builds the Chatwoot message body for m.
func MessagePayload(m botmaker.Message) map[string]any {
	payload := map[string]any{
		"content":      MessageContent(m),
		"message_type": MessageType(m),
		"content_attributes": compact(map[string]any{
			"botmaker":            m.Content,
			"original_sent_at":    m.CreationTime,
			"botmaker_message_id": m.ID,
			"botmaker_session_id": m.SessionID,
			"botmaker_sender":     m.Sender,
		}),
	}
	if strings.EqualFold(m.Sender, "agent") {
		payload["private"] = false
	}
	return payload
}

// MessageType is incoming for user messages and outgoing for everything else.
func MessageType(m botmaker.Message) string {
	if strings.EqualFold(m.Sender, "user") {
		return "incoming"
	}
	return "outgoing"
}

// MessageContent renders the visible text of a Botmaker message.
func MessageContent(m botmaker.Message) string {
	content := m.Content
	kind, _ := content["type"].(string)

	switch kind {
	case "text":
		if s := str(content["text"]); s != "" {
			return s
		}
	case "buttons":
		if s := str(content["selectedButton"]); s != "" {
			return "[Button] " + s
		}
	case "image", "audio", "file":
		if media, ok := content["media"].(map[string]any); ok && len(media) > 0 {
			url := str(media["url"])
			if url == "" {
				url = "binary"
			}
			return fmt.Sprintf("[%s] %s", mediaLabel[kind], url)
		}
	}
	if s := str(content["originalText"]); s != "" {
		return s
	}
	if kind == "" {
		kind = "unknown"
	}
	return fmt.Sprintf("[%s message without text]", kind)
}

var mediaLabel = map[string]string{"image": "Image", "audio": "Audio", "file": "File"}

// ContactAttributes returns the derived custom attributes for a contact.
func ContactAttributes(contactID string, facts aggregate.Result) map[string]any {
	return derived(contactID, facts.ContactPriority, facts.ContactLastInteraction, facts.ContactLastAgentID, facts.ContactLastAgentAt)
}

// ChatAttributes returns the derived custom attributes for a chat.
func ChatAttributes(chatID string, facts aggregate.Result) map[string]any {
	return derived(chatID, facts.ChatPriority, facts.ChatLastInteraction, facts.ChatLastAgentID, facts.ChatLastAgentAt)
}

func derived(id string, priority map[string]bool, last, agentID, agentAt map[string]string) map[string]any {
	out := make(map[string]any)
	if p, ok := priority[id]; ok {
		out[AttrPriorityChannel] = p
	}
	if v := last[id]; v != "" {
		out[AttrLastInteractionAt] = v
	}
	if v := agentID[id]; v != "" {
		out[AttrLastAgentID] = v
	}
	if v := agentAt[id]; v != "" {
		out[AttrLastAgentAt] = v
	}
	return out
}

// compact drops nil, empty strings, empty slices and empty maps.
func compact(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if isEmpty(v) {
			continue
		}
		out[k] = v
	}
	return out
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []string:
		return len(x) == 0
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	case int64:
		return x == 0
	default:
		return false
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func nonEmpty(parts ...string) []string {
	out := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
