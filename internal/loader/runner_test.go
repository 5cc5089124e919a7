package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/ferry/internal/botmaker"
	"github.com/MikeSquared-Agency/ferry/internal/chatwoot"
	"github.com/MikeSquared-Agency/ferry/internal/checkpoint"
	"github.com/MikeSquared-Agency/ferry/internal/hermes"
	"github.com/MikeSquared-Agency/ferry/internal/jsonfile"
	"github.com/MikeSquared-Agency/ferry/internal/ledger"
	"github.com/MikeSquared-Agency/ferry/internal/reconcile"
	"github.com/MikeSquared-Agency/ferry/internal/storage"
)

// fakeChatwoot answers the account API with increasing ids. Messages whose content is
// "reject me" get a 422; every call fails with 401 when unauthorized is set.
type fakeChatwoot struct {
	mu           sync.Mutex
	nextID       int64
	calls        []string
	unauthorized bool
}

func (f *fakeChatwoot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := strings.TrimPrefix(r.URL.Path, "/api/v1/accounts/7")
	f.calls = append(f.calls, r.Method+" "+p)
	w.Header().Set("Content-Type", "application/json")

	if f.unauthorized {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"Invalid Access Token"}`))
		return
	}

	var body map[string]any
	json.NewDecoder(r.Body).Decode(&body)
	f.nextID++

	switch {
	case r.Method == http.MethodPost && p == "/contacts":
		json.NewEncoder(w).Encode(map[string]any{"payload": map[string]any{"contact": map[string]any{"id": f.nextID}}})
	case r.Method == http.MethodPost && p == "/conversations":
		json.NewEncoder(w).Encode(map[string]any{"id": f.nextID})
	case r.Method == http.MethodPost && strings.HasSuffix(p, "/messages"):
		if body["content"] == "reject me" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"message":"content invalid"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"id": f.nextID})
	default:
		w.Write([]byte(`{}`))
	}
}

func (f *fakeChatwoot) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeChatwoot) exact(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]any
}

func (p *recordingPublisher) Publish(subject string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = make(map[string][]any)
	}
	p.events[subject] = append(p.events[subject], v)
	return nil
}

type env struct {
	dir   string
	store *storage.Local
	cps   *checkpoint.FileStore
	pub   *recordingPublisher
	out   *bytes.Buffer
	cw    *fakeChatwoot
	srv   *httptest.Server
}

func setup(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocal(filepath.Join(dir, "data"), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	cw := &fakeChatwoot{}
	srv := httptest.NewServer(cw)
	t.Cleanup(srv.Close)

	e := &env{
		dir:   dir,
		store: store,
		cps:   checkpoint.OpenFile(filepath.Join(dir, "mappings"), checkpoint.LoadFile),
		pub:   &recordingPublisher{},
		out:   &bytes.Buffer{},
		cw:    cw,
		srv:   srv,
	}
	writeExtraction(t, store, "botmaker/run-1")
	return e
}

func writeExtraction(t *testing.T, store *storage.Local, prefix string) {
	t.Helper()
	chats := []botmaker.Chat{
		{ChatID: "c1", ContactID: "5491100000001", ChannelID: "acme-whatsapp", FirstName: "Ana", Tags: []string{"VIP"}},
		{ChatID: "c2", ContactID: "u-web", ChannelID: "acme-webchat", Email: "web@example.com"},
	}
	set := botmaker.NewContactSet()
	for _, c := range chats {
		set.Add(c, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	}
	messages := []botmaker.Message{
		{ID: "m1", ChatID: "c1", Sender: "user", CreationTime: "2025-02-01T10:00:00Z", Content: map[string]any{"type": "text", "text": "hola"}},
		{ID: "m2", ChatID: "c1", Sender: "agent", AgentID: "ag-1", CreationTime: "2025-02-01T10:05:00Z", Content: map[string]any{"type": "text", "text": "reject me"}},
		{ID: "m3", ChatID: "c2", Sender: "bot", CreationTime: "2025-02-02T09:00:00Z", Content: map[string]any{"type": "text", "text": "bye"}},
		{ID: "m4", ChatID: "c-unknown", Sender: "user", Content: map[string]any{"type": "text", "text": "orphan"}},
	}
	for name, err := range map[string]error{
		"contacts": storage.WriteNDJSON(store, prefix+"/contacts.ndjson", set.List()),
		"chats":    storage.WriteNDJSON(store, prefix+"/chats.ndjson", chats),
		"messages": storage.WriteNDJSON(store, prefix+"/messages.ndjson", messages),
	} {
		if err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func (e *env) runner(t *testing.T, dest reconcile.Destination) *Runner {
	t.Helper()
	ledgers := reconcile.Ledgers{}
	var err error
	mappings := filepath.Join(e.dir, "mappings")
	if ledgers.Contacts, err = ledger.OpenFile(mappings, ledger.Contacts); err != nil {
		t.Fatal(err)
	}
	if ledgers.Conversations, err = ledger.OpenFile(mappings, ledger.Conversations); err != nil {
		t.Fatal(err)
	}
	if ledgers.Messages, err = ledger.OpenFile(mappings, ledger.Messages); err != nil {
		t.Fatal(err)
	}
	cfg := Config{
		InboxID:         3,
		PriorityChannel: "whatsapp",
		Now:             func() time.Time { return time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC) },
		Out:             e.out,
	}
	return NewRunner(cfg, dest, ledgers, e.store, e.cps, e.pub, quietLogger())
}

func (e *env) client(t *testing.T) *chatwoot.Client {
	t.Helper()
	c, err := chatwoot.New(chatwoot.Config{BaseURL: e.srv.URL, AccessToken: "cw", AccountID: "7", RPS: 1000}, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestRun_LoadsAndWritesSnapshots(t *testing.T) {
	e := setup(t)
	summary, err := e.runner(t, e.client(t)).Run(context.Background(), Options{InputPrefix: "botmaker/run-1/", ChunkSize: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Prefix != "botmaker/run-1" || summary.Type != "load" || summary.RunID == "" {
		t.Errorf("summary = %+v", summary)
	}
	if summary.Contacts.Created != 2 || summary.Conversations.Created != 2 {
		t.Errorf("created = %+v %+v", summary.Contacts, summary.Conversations)
	}
	if summary.Messages.Created != 2 || summary.Messages.Failed != 1 || summary.Messages.Skipped != 1 {
		t.Errorf("messages = %+v", summary.Messages)
	}
	if summary.Counts != (Counts{ContactsUpdated: 2, ChatsUpdated: 2, MessagesUpdated: 4}) {
		t.Errorf("counts = %+v", summary.Counts)
	}

	contacts, err := storage.ReadNDJSON[botmaker.Contact](e.store, "botmaker/run-1/"+ContactsStatusFile)
	if err != nil || len(contacts) != 2 || !contacts[0].Exported || contacts[0].ExportedAt != "2025-03-02T09:00:00Z" {
		t.Errorf("contacts snapshot = %+v, %v", contacts, err)
	}
	msgs, _ := storage.ReadNDJSON[botmaker.Message](e.store, "botmaker/run-1/"+MessagesStatusFile)
	exported := 0
	for _, m := range msgs {
		if m.Exported {
			exported++
		}
	}
	if len(msgs) != 4 || exported != 2 {
		t.Errorf("messages snapshot: %d records, %d exported", len(msgs), exported)
	}

	var marker Marker
	if found, _ := e.cps.Get(context.Background(), checkpoint.LastLoad, &marker); !found {
		t.Fatal("last_load not written")
	}
	if marker.InputPrefix != "botmaker/run-1" || marker.MessagesProcessed != 4 || marker.RunID != summary.RunID {
		t.Errorf("marker = %+v", marker)
	}

	var written Summary
	if found, err := jsonfile.Read(filepath.Join(e.store.DataDir, "botmaker", "run-1", SummaryFile), &written); err != nil || !found {
		t.Fatalf("load_summary.json: %v %v", found, err)
	}
	if written.Counts.ChatsUpdated != 2 || written.Messages.Failed != 1 {
		t.Errorf("load_summary.json = %+v", written)
	}

	if n := len(e.pub.events[hermes.SubjectLoadCompleted]); n != 1 {
		t.Errorf("load completed events = %d", n)
	}
	failures := e.pub.events[hermes.SubjectEntityFailed]
	if len(failures) != 1 {
		t.Fatalf("entity failed events = %d", len(failures))
	}
	if ev := failures[0].(hermes.EntityFailed); ev.SourceID != "m2" || ev.Kind != "validation" || ev.Entity != "message" {
		t.Errorf("entity failed = %+v", ev)
	}
	if !strings.Contains(e.out.String(), "=== Load Summary ===") {
		t.Errorf("printed summary = %q", e.out.String())
	}
}

func TestRun_SecondRunCreatesNothing(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	if _, err := e.runner(t, e.client(t)).Run(ctx, Options{InputPrefix: "botmaker/run-1"}); err != nil {
		t.Fatal(err)
	}
	contacts, convs := e.cw.exact("POST /contacts"), e.cw.exact("POST /conversations")
	if contacts != 2 || convs != 2 {
		t.Fatalf("first run creates = %d contacts, %d conversations", contacts, convs)
	}

	summary, err := e.runner(t, e.client(t)).Run(ctx, Options{InputPrefix: "botmaker/run-1"})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Contacts.Mapped != 2 || summary.Conversations.Mapped != 2 || summary.Messages.Mapped != 2 {
		t.Errorf("second run = %+v %+v %+v", summary.Contacts, summary.Conversations, summary.Messages)
	}
	if e.cw.exact("POST /contacts") != contacts || e.cw.exact("POST /conversations") != convs {
		t.Error("second run created destination records")
	}
	if n := e.cw.count("POST /contacts/1/notes"); n != 1 {
		t.Errorf("contact note posted %d times", n)
	}
}

func TestRun_DryRunWritesSnapshotsButNoDestinationCalls(t *testing.T) {
	e := setup(t)
	summary, err := e.runner(t, nil).Run(context.Background(), Options{InputPrefix: "botmaker/run-1", DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(e.cw.calls) != 0 {
		t.Errorf("dry run made calls: %v", e.cw.calls)
	}
	if !summary.DryRun || summary.Contacts.DryRun != 2 {
		t.Errorf("summary = %+v", summary)
	}
	if _, err := os.Stat(filepath.Join(e.dir, "mappings", ledger.Contacts.Filename())); !os.IsNotExist(err) {
		t.Error("dry run should not write ledgers")
	}
	if !strings.Contains(e.out.String(), "DRY RUN") {
		t.Error("printed summary should flag dry run")
	}
}

func TestRun_FatalErrorWritesNoSnapshotOrCheckpoint(t *testing.T) {
	e := setup(t)
	e.cw.unauthorized = true

	_, err := e.runner(t, e.client(t)).Run(context.Background(), Options{InputPrefix: "botmaker/run-1"})
	var rerr *reconcile.Error
	if !errors.As(err, &rerr) || rerr.Kind != reconcile.Configuration {
		t.Fatalf("err = %v, want configuration error", err)
	}
	if _, err := os.Stat(filepath.Join(e.store.DataDir, "botmaker", "run-1", ContactsStatusFile)); !os.IsNotExist(err) {
		t.Error("snapshots must not be written after a fatal error")
	}
	if found, _ := e.cps.Get(context.Background(), checkpoint.LastLoad, &Marker{}); found {
		t.Error("checkpoint must not be written after a fatal error")
	}
	if len(e.pub.events[hermes.SubjectLoadCompleted]) != 0 {
		t.Error("no completion event after a fatal error")
	}
}

func TestRun_SkipMessagesAndReset(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.cps.Set(ctx, checkpoint.LastLoad, Marker{InputPrefix: "old"})

	summary, err := e.runner(t, e.client(t)).Run(ctx, Options{InputPrefix: "botmaker/run-1", SkipMessages: true, ResetCheckpoint: true})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Counts.MessagesUpdated != 0 {
		t.Errorf("messages = %d", summary.Counts.MessagesUpdated)
	}
	if _, err := os.Stat(filepath.Join(e.store.DataDir, "botmaker", "run-1", MessagesStatusFile)); !os.IsNotExist(err) {
		t.Error("messages snapshot should be omitted when empty")
	}
	var marker Marker
	e.cps.Get(ctx, checkpoint.LastLoad, &marker)
	if marker.InputPrefix != "botmaker/run-1" {
		t.Errorf("marker = %+v", marker)
	}
}

func TestRun_RequiresPrefix(t *testing.T) {
	e := setup(t)
	if _, err := e.runner(t, nil).Run(context.Background(), Options{DryRun: true}); err == nil {
		t.Error("expected error without input prefix")
	}
}

func TestRun_LiveRunWithoutInboxIsConfiguration(t *testing.T) {
	e := setup(t)
	r := e.runner(t, e.client(t))
	r.cfg.InboxID = 0
	_, err := r.Run(context.Background(), Options{InputPrefix: "botmaker/run-1"})
	var rerr *reconcile.Error
	if !errors.As(err, &rerr) || rerr.Kind != reconcile.Configuration {
		t.Errorf("err = %v", err)
	}
}

func TestFormatSummary(t *testing.T) {
	s := Summary{
		Prefix:   "botmaker/run-1",
		DryRun:   true,
		Counts:   Counts{ContactsUpdated: 12345, ChatsUpdated: 2, MessagesUpdated: 3},
		Contacts: reconcile.Counts{Created: 1200, Mapped: 11145},
		Messages: reconcile.Counts{Failed: 2, Skipped: 1},
	}
	text := FormatSummary(s)
	for _, want := range []string{
		"*Load Summary* `botmaker/run-1` (dry run)",
		"Contacts: 12,345 (created 1,200, found 0, mapped 11,145)",
		"skipped 1, failed 2",
		"_2 entities failed",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("summary missing %q:\n%s", want, text)
		}
	}
}
