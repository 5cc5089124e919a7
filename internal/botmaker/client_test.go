package botmaker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/ferry/internal/transport"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tc, err := transport.New(transport.Config{
		BaseURL:        baseURL,
		Headers:        map[string]string{"Authorization": "Bearer bm-token"},
		RPS:            1000,
		InitialBackoff: time.Millisecond,
	}, logger)
	if err != nil {
		t.Fatal(err)
	}
	return NewWithTransport(tc, logger)
}

func TestNew_RequiresToken(t *testing.T) {
	if _, err := New(Config{BaseURL: "https://api.botmaker.com/v2.0"}, nil); err == nil {
		t.Fatal("expected error without token")
	}
}

func TestStreamChats_FollowsNextPage(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer bm-token" {
			t.Errorf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("page") {
		case "":
			if r.URL.Path != "/v2.0/chats" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if r.URL.Query().Get("from") != "2025-01-01T00:00:00Z" {
				t.Errorf("expected from param, got %q", r.URL.Query().Get("from"))
			}
			json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{
					{"chat": map[string]any{"chatId": "c1", "channelId": "acme-whatsapp-1", "contactId": "5511999"}, "firstName": "Ana", "tags": []string{"vip"}},
					{"chat": map[string]any{"chatId": "c2", "channelId": "acme-webchat", "contactId": "u-2"}, "email": "b@example.com"},
				},
				"nextPage": server.URL + "/v2.0/chats?page=2",
			})
		case "2":
			if r.URL.Query().Get("from") != "" {
				t.Error("cursor request must not re-send filters")
			}
			json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{
					{"chat": map[string]any{"chatId": "c3", "channelId": "acme-whatsapp-1", "contactId": "5511999"}, "queueId": "sales"},
				},
			})
		}
	}))
	defer server.Close()

	c := newTestClient(t, server.URL+"/v2.0")
	var got []Chat
	n, err := c.StreamChats(context.Background(), ChatQuery{From: "2025-01-01T00:00:00Z"}, 0, func(ch Chat) error {
		got = append(got, ch)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamChats: %v", err)
	}
	if n != 3 || len(got) != 3 {
		t.Fatalf("expected 3 chats, got n=%d len=%d", n, len(got))
	}
	if got[0].ChatID != "c1" || got[0].ContactID != "5511999" || got[0].FirstName != "Ana" {
		t.Errorf("unexpected first chat %+v", got[0])
	}
	if len(got[0].Tags) != 1 || got[0].Tags[0] != "vip" {
		t.Errorf("expected tags to decode, got %v", got[0].Tags)
	}
	if got[2].QueueID != "sales" {
		t.Errorf("expected queue on second page, got %+v", got[2])
	}
}

func TestStreamChats_Limit(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("limit") != "1" {
			t.Errorf("expected limit=1, got %q", r.URL.Query().Get("limit"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"chat": map[string]any{"chatId": "c1"}},
				{"chat": map[string]any{"chatId": "c2"}},
			},
			"nextPage": "http://unused.invalid/next",
		})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	n, err := c.StreamChats(context.Background(), ChatQuery{Limit: 1}, 1, func(Chat) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 chat, got %d", n)
	}
	if calls != 1 {
		t.Errorf("expected a single page fetch, got %d", calls)
	}
}

func TestStreamMessages_DecodesAndFilters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if q.Get("chat-id") != "c1" || q.Get("contact-id") != "5511999" || q.Get("channel-id") != "wa" {
			t.Errorf("unexpected filters %v", q)
		}
		if q.Get("long-term-search") != "true" {
			t.Errorf("expected long-term-search=true, got %q", q.Get("long-term-search"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{
					"id":           "m1",
					"creationTime": "2025-01-02T10:00:00Z",
					"from":         "agent",
					"agentId":      "ag-7",
					"chat":         map[string]any{"chatId": "c1", "channelId": "wa", "contactId": "5511999"},
					"sessionId":    "s1",
					"content":      map[string]any{"type": "text", "text": "hola"},
				},
			},
		})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	var got []Message
	_, err := c.StreamMessages(context.Background(), MessageQuery{ChatID: "c1", ContactID: "5511999", ChannelID: "wa", LongTermSearch: true}, 0, func(m Message) error {
		got = append(got, m)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}
	m := got[0]
	if m.ID != "m1" || m.Sender != "agent" || m.AgentID != "ag-7" || m.ChatID != "c1" || m.SessionID != "s1" {
		t.Errorf("unexpected message %+v", m)
	}
	if m.Content["text"] != "hola" {
		t.Errorf("expected content to decode, got %v", m.Content)
	}
}

func TestListChats_UnexpectedShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`["not","an","object"]`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	if _, err := c.ListChats(context.Background(), ChatQuery{}, ""); err == nil {
		t.Fatal("expected error for array response")
	}
}

func TestStream_StopsOnYieldError(t *testing.T) {
	stop := errors.New("stop")
	fetch := func(ctx context.Context, cursor string) (Page[int], error) {
		return Page[int]{Items: []int{1, 2, 3}, NextPage: "more"}, nil
	}
	n, err := Stream(context.Background(), fetch, 0, func(i int) error {
		if i == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected stop error, got %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 item before stop, got %d", n)
	}
}

func TestStream_FetchErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	pages := 0
	fetch := func(ctx context.Context, cursor string) (Page[int], error) {
		pages++
		if cursor == "p2" {
			return Page[int]{}, boom
		}
		return Page[int]{Items: []int{1}, NextPage: "p2"}, nil
	}
	n, err := Stream(context.Background(), fetch, 0, func(int) error { return nil })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if n != 1 || pages != 2 {
		t.Errorf("n=%d pages=%d", n, pages)
	}
}

func TestContactSet_FirstChatWins(t *testing.T) {
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	s := NewContactSet()
	s.Add(Chat{ChatID: "c1", ContactID: "u1", FirstName: "First"}, now)
	s.Add(Chat{ChatID: "c2", ContactID: "u1", FirstName: "Second"}, now)
	s.Add(Chat{ChatID: "c3", ContactID: "u2"}, now)
	s.Add(Chat{ChatID: "c4"}, now)

	list := s.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 contacts, got %d", len(list))
	}
	if list[0].FirstName != "First" || list[0].ChatID != "c1" {
		t.Errorf("expected first chat to win, got %+v", list[0])
	}
	if list[0].InsertedAt != "2025-05-01T00:00:00Z" {
		t.Errorf("unexpected inserted_at %q", list[0].InsertedAt)
	}
	if list[0].Exported {
		t.Error("new contacts start unexported")
	}
}
