package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/ferry/internal/botmaker"
	"github.com/MikeSquared-Agency/ferry/internal/config"
	"github.com/MikeSquared-Agency/ferry/internal/reconcile"
	"github.com/MikeSquared-Agency/ferry/internal/storage"
	"github.com/MikeSquared-Agency/ferry/internal/transport"
)

// isolate points every path and credential at test-owned values.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("MAPPINGS_DIR", filepath.Join(dir, "mappings"))
	t.Setenv("LOG_DIR", "")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("STORAGE_BACKEND", "local")
	t.Setenv("NATS_URL", "")
	t.Setenv("SLACK_BOT_TOKEN", "")
	t.Setenv("BOTMAKER_API_TOKEN", "")
	t.Setenv("CHATWOOT_API_ACCESS_TOKEN", "")
	t.Setenv("CHATWOOT_ACCOUNT_ID", "")
	t.Setenv("CHATWOOT_INBOX_ID", "")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd("test")
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"missing config", fmt.Errorf("load: %w", config.ErrMissing), ExitConfig},
		{"destination auth", fmt.Errorf("load x: %w", &reconcile.Error{Kind: reconcile.Configuration, Err: errors.New("401")}), ExitConfig},
		{"transient", &reconcile.Error{Kind: reconcile.Transient, Err: errors.New("503")}, ExitFailure},
		{"source auth", fmt.Errorf("fetch chats: %w", &transport.Error{Kind: transport.Validation, Status: http.StatusUnauthorized}), ExitConfig},
		{"source rejected", &transport.Error{Kind: transport.Validation, Status: http.StatusBadRequest}, ExitFailure},
		{"other", errors.New("boom"), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestErrorHint(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"missing config", config.ErrMissing, "missing variables"},
		{"forbidden", fmt.Errorf("list inboxes: %w", &transport.Error{Kind: transport.Validation, Status: http.StatusForbidden}), "rejected the credentials"},
		{"source transient", &transport.Error{Kind: transport.Transient, Status: http.StatusBadGateway}, "smaller window"},
		{"destination transient", &reconcile.Error{Kind: reconcile.Transient, Err: errors.New("503")}, "resume from the ledgers"},
		{"other", errors.New("boom"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errorHint(tt.err)
			if (tt.want == "" && got != "") || !strings.Contains(got, tt.want) {
				t.Errorf("errorHint = %q, want it to mention %q", got, tt.want)
			}
		})
	}
}

func TestExecute_ClosesLogFileOnFailedRun(t *testing.T) {
	dir := isolate(t)
	logDir := filepath.Join(dir, "logs")
	t.Setenv("LOG_DIR", logDir)

	cmd, a := newRootCmd("test")
	var errOut bytes.Buffer
	cmd.SetOut(io.Discard)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"extract", "--max-chats", "1"})

	if code := execute(context.Background(), cmd, a); code != ExitConfig {
		t.Errorf("exit code = %d, want %d", code, ExitConfig)
	}
	if a.closeLog != nil {
		t.Error("log file should be closed after a failed run")
	}
	if _, err := os.Stat(filepath.Join(logDir, "ferry.log")); err != nil {
		t.Errorf("log file: %v", err)
	}
	if !strings.Contains(errOut.String(), "BOTMAKER_API_TOKEN") || !strings.Contains(errOut.String(), "Hint:") {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestInboxes_MissingCredentialsIsConfigError(t *testing.T) {
	isolate(t)
	_, err := run(t, "inboxes")
	if ExitCode(err) != ExitConfig || !strings.Contains(err.Error(), "CHATWOOT_API_ACCESS_TOKEN") {
		t.Errorf("err = %v, want configuration exit", err)
	}

	t.Setenv("CHATWOOT_API_ACCESS_TOKEN", "cw")
	_, err = run(t, "inboxes")
	if ExitCode(err) != ExitConfig || !strings.Contains(err.Error(), "CHATWOOT_ACCOUNT_ID") {
		t.Errorf("err = %v, want missing account id", err)
	}
}

func TestPlan_PrintsWindows(t *testing.T) {
	isolate(t)
	out, err := run(t, "plan", "--year", "2025")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "Extraction plan:") || !strings.Contains(out, "prefix: botmaker/2025/2025-12") {
		t.Errorf("plan output = %q", out)
	}
}

func TestExtract_MissingTokenIsConfigError(t *testing.T) {
	isolate(t)
	_, err := run(t, "extract", "--max-chats", "1")
	if ExitCode(err) != ExitConfig {
		t.Errorf("err = %v, want configuration exit", err)
	}
}

func TestRoot_UnknownStorageBackend(t *testing.T) {
	isolate(t)
	t.Setenv("STORAGE_BACKEND", "s3")
	_, err := run(t, "plan")
	if ExitCode(err) != ExitConfig {
		t.Errorf("err = %v, want configuration exit", err)
	}
}

func TestLoad_LiveRunNeedsDestination(t *testing.T) {
	isolate(t)
	_, err := run(t, "load", "--input-prefix", "botmaker/run-1")
	if ExitCode(err) != ExitConfig || !strings.Contains(err.Error(), "CHATWOOT_API_ACCESS_TOKEN") {
		t.Errorf("err = %v", err)
	}
}

func TestLoad_DryRunWithoutDestination(t *testing.T) {
	dir := isolate(t)
	store, err := storage.NewLocal(filepath.Join(dir, "data"), nil)
	if err != nil {
		t.Fatal(err)
	}
	storage.WriteNDJSON(store, "botmaker/run-1/contacts.ndjson", []botmaker.Contact{{ContactID: "u1"}})
	storage.WriteNDJSON(store, "botmaker/run-1/chats.ndjson", []botmaker.Chat{{ChatID: "c1", ContactID: "u1"}})

	out, err := run(t, "load", "--input-prefix", "botmaker/run-1", "--dry-run")
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if !strings.Contains(out, "Mode: DRY RUN") || !strings.Contains(out, "Contacts processed: 1") {
		t.Errorf("output = %q", out)
	}
}

func TestInboxes_CSV(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/accounts/7/inboxes" || r.Header.Get("api_access_token") != "cw" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"payload":[{"id":3,"name":"WhatsApp, main","channel_type":"Channel::Whatsapp"},{"id":4,"name":"Site","channel_type":"Channel::WebWidget","website_url":"https://acme.test"}]}`))
	}))
	defer srv.Close()
	t.Setenv("CHATWOOT_BASE_URL", srv.URL)
	t.Setenv("CHATWOOT_API_ACCESS_TOKEN", "cw")
	t.Setenv("CHATWOOT_ACCOUNT_ID", "7")

	out, err := run(t, "inboxes")
	if err != nil {
		t.Fatal(err)
	}
	want := "id,name,channel_type,website_url\n" +
		"3,\"WhatsApp, main\",Channel::Whatsapp,\n" +
		"4,Site,Channel::WebWidget,https://acme.test\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}
