package botmaker

import "time"

// Chat is a Botmaker chat as stored in chats.ndjson.
type Chat struct {
	ChatID                  string         `json:"chat_id"`
	ChannelID               string         `json:"channel_id"`
	ContactID               string         `json:"contact_id"`
	CreationTime            string         `json:"creation_time,omitempty"`
	ExternalID              string         `json:"external_id,omitempty"`
	FirstName               string         `json:"first_name,omitempty"`
	LastName                string         `json:"last_name,omitempty"`
	Country                 string         `json:"country,omitempty"`
	Email                   string         `json:"email,omitempty"`
	Variables               map[string]any `json:"variables,omitempty"`
	Tags                    []string       `json:"tags,omitempty"`
	QueueID                 string         `json:"queue_id,omitempty"`
	AgentID                 string         `json:"agent_id,omitempty"`
	LastUserMessageDatetime string         `json:"last_user_message_datetime,omitempty"`
	ListMessagesURL         string         `json:"list_messages_url,omitempty"`
	InsertedAt              string         `json:"inserted_at,omitempty"`
	Exported                bool           `json:"exported"`
	ExportedAt              string         `json:"exported_at,omitempty"`
}

// Message is a Botmaker message as stored in messages.ndjson.
type Message struct {
	ID           string         `json:"id"`
	CreationTime string         `json:"creation_time,omitempty"`
	Sender       string         `json:"sender"`
	AgentID      string         `json:"agent_id,omitempty"`
	QueueID      string         `json:"queue_id,omitempty"`
	ChatID       string         `json:"chat_id"`
	ChannelID    string         `json:"channel_id"`
	ContactID    string         `json:"contact_id"`
	SessionID    string         `json:"session_id,omitempty"`
	Content      map[string]any `json:"content,omitempty"`
	Exported     bool           `json:"exported"`
	ExportedAt   string         `json:"exported_at,omitempty"`
}

// Contact is derived from the first chat seen for a contact id.
type Contact struct {
	ContactID  string         `json:"contact_id"`
	ChannelID  string         `json:"channel_id,omitempty"`
	ChatID     string         `json:"chat_id,omitempty"`
	FirstName  string         `json:"first_name,omitempty"`
	LastName   string         `json:"last_name,omitempty"`
	Email      string         `json:"email,omitempty"`
	Country    string         `json:"country,omitempty"`
	ExternalID string         `json:"external_id,omitempty"`
	Variables  map[string]any `json:"variables,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	InsertedAt string         `json:"inserted_at,omitempty"`
	Exported   bool           `json:"exported"`
	ExportedAt string         `json:"exported_at,omitempty"`
}

// ContactFromChat builds the contact record for chat.
func ContactFromChat(chat Chat, now time.Time) Contact {
	return Contact{
		ContactID:  chat.ContactID,
		ChannelID:  chat.ChannelID,
		ChatID:     chat.ChatID,
		FirstName:  chat.FirstName,
		LastName:   chat.LastName,
		Email:      chat.Email,
		Country:    chat.Country,
		ExternalID: chat.ExternalID,
		Variables:  chat.Variables,
		Tags:       chat.Tags,
		InsertedAt: now.UTC().Format(time.RFC3339),
	}
}

// ContactSet collects contacts in first-seen order, keeping the first chat per contact.
type ContactSet struct {
	order []string
	byID  map[string]Contact
}

func NewContactSet() *ContactSet {
	return &ContactSet{byID: make(map[string]Contact)}
}

// Add records the chat's contact unless it was already seen. It reports whether the
// contact was new.
func (s *ContactSet) Add(chat Chat, now time.Time) bool {
	if chat.ContactID == "" {
		return false
	}
	if _, ok := s.byID[chat.ContactID]; ok {
		return false
	}
	s.byID[chat.ContactID] = ContactFromChat(chat, now)
	s.order = append(s.order, chat.ContactID)
	return true
}

func (s *ContactSet) Len() int { return len(s.order) }

// List returns contacts in first-seen order.
func (s *ContactSet) List() []Contact {
	out := make([]Contact, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// The api* types mirror the Botmaker v2.0 listing payloads.
type apiChatRef struct {
	ChatID    string `json:"chatId"`
	ChannelID string `json:"channelId"`
	ContactID string `json:"contactId"`
}

type apiChat struct {
	Chat                    apiChatRef     `json:"chat"`
	CreationTime            string         `json:"creationTime"`
	ExternalID              string         `json:"externalId"`
	FirstName               string         `json:"firstName"`
	LastName                string         `json:"lastName"`
	Country                 string         `json:"country"`
	Email                   string         `json:"email"`
	Variables               map[string]any `json:"variables"`
	Tags                    []string       `json:"tags"`
	QueueID                 string         `json:"queueId"`
	AgentID                 string         `json:"agentId"`
	LastUserMessageDatetime string         `json:"lastUserMessageDatetime"`
	ListMessagesURL         string         `json:"listMessagesURL"`
}

func (a apiChat) toChat() Chat {
	return Chat{
		ChatID:                  a.Chat.ChatID,
		ChannelID:               a.Chat.ChannelID,
		ContactID:               a.Chat.ContactID,
		CreationTime:            a.CreationTime,
		ExternalID:              a.ExternalID,
		FirstName:               a.FirstName,
		LastName:                a.LastName,
		Country:                 a.Country,
		Email:                   a.Email,
		Variables:               a.Variables,
		Tags:                    a.Tags,
		QueueID:                 a.QueueID,
		AgentID:                 a.AgentID,
		LastUserMessageDatetime: a.LastUserMessageDatetime,
		ListMessagesURL:         a.ListMessagesURL,
	}
}

type apiMessage struct {
	ID           string         `json:"id"`
	CreationTime string         `json:"creationTime"`
	From         string         `json:"from"`
	AgentID      string         `json:"agentId"`
	QueueID      string         `json:"queueId"`
	Chat         apiChatRef     `json:"chat"`
	SessionID    string         `json:"sessionId"`
	Content      map[string]any `json:"content"`
}

func (a apiMessage) toMessage() Message {
	return Message{
		ID:           a.ID,
		CreationTime: a.CreationTime,
		Sender:       a.From,
		AgentID:      a.AgentID,
		QueueID:      a.QueueID,
		ChatID:       a.Chat.ChatID,
		ChannelID:    a.Chat.ChannelID,
		ContactID:    a.Chat.ContactID,
		SessionID:    a.SessionID,
		Content:      a.Content,
	}
}
