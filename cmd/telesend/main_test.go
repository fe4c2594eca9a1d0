package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// runApp executes the command tree with an isolated HOME and working
// directory, returning the exit code and both output streams.
func runApp(t *testing.T, ctx context.Context, stdin io.Reader, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	a := &app{stdin: stdin, stdout: &stdout, stderr: &stderr}
	code := a.execute(ctx, args)
	return code, stdout.String(), stderr.String()
}

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{
		"TELESEND_API_ID", "TELESEND_API_HASH", "TELESEND_TOKEN", "TELESEND_SLACK_TOKEN",
		"TELESEND_DISCORD_TOKEN", "TELESEND_CHAT_ID", "TELESEND_DIRECTORY",
	} {
		t.Setenv(key, "")
	}
	return home
}

func TestRun_DryRunBatch(t *testing.T) {
	dir := isolate(t)
	os.WriteFile(filepath.Join(dir, "cat.png"), []byte("png"), 0o644)

	input := strings.Join([]string{
		"hello",
		"photo: missing.png: Cap",
		"markdown: *b*",
		"photo: cat.png: Kitty",
		"sticker: x",
	}, "\n") + "\n"

	code, stdout, stderr := runApp(t, context.Background(), strings.NewReader(input),
		"--dry-run", "--chat-id", "42", "--directory", dir)

	if code != 0 {
		t.Fatalf("exit %d, stderr: %s", code, stderr)
	}
	want := "[text] 42: hello\n" +
		"[markdown] 42: *b*\n" +
		fmt.Sprintf("[photo] 42: %s (Kitty)\n", filepath.Join(dir, "cat.png"))
	if stdout != want {
		t.Fatalf("stdout:\n%s\nwant:\n%s", stdout, want)
	}
	wantErr := fmt.Sprintf("File not found: %s (line 2)\nUnknown message type: sticker (line 5)\n", filepath.Join(dir, "missing.png"))
	if stderr != wantErr {
		t.Fatalf("stderr:\n%s\nwant:\n%s", stderr, wantErr)
	}
}

func TestRun_MissingChatID(t *testing.T) {
	isolate(t)
	code, _, stderr := runApp(t, context.Background(), strings.NewReader(""), "--dry-run")
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr, "--chat-id is required unless using --list-chats") {
		t.Fatalf("unexpected stderr: %q", stderr)
	}
}

func TestRun_ChatIDFromEnv(t *testing.T) {
	isolate(t)
	t.Setenv("TELESEND_CHAT_ID", "-1001")

	code, stdout, stderr := runApp(t, context.Background(), strings.NewReader("hi\n"), "--dry-run")
	if code != 0 {
		t.Fatalf("exit %d, stderr: %s", code, stderr)
	}
	if stdout != "[text] -1001: hi\n" {
		t.Fatalf("unexpected stdout: %q", stdout)
	}
}

func TestRun_InvalidPlatform(t *testing.T) {
	isolate(t)
	code, _, stderr := runApp(t, context.Background(), strings.NewReader(""),
		"--platform", "icq", "--chat-id", "1")
	if code != 1 || !strings.Contains(stderr, "platform must be one of") {
		t.Fatalf("exit %d, stderr: %q", code, stderr)
	}
}

func TestRun_AuthFailureExitsOne(t *testing.T) {
	isolate(t)
	code, _, stderr := runApp(t, context.Background(), strings.NewReader(""), "--chat-id", "1")
	if code != 1 || !strings.Contains(stderr, "telegram authentication failed") {
		t.Fatalf("exit %d, stderr: %q", code, stderr)
	}
}

func TestRun_Interrupted(t *testing.T) {
	isolate(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, w := io.Pipe()
	defer w.Close()

	code, _, stderr := runApp(t, ctx, r, "--dry-run", "--chat-id", "42")
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if stderr != "Interrupted by user.\n" {
		t.Fatalf("unexpected stderr: %q", stderr)
	}
}

// fakeTelegram answers getMe and getUpdates; updates are served once.
func fakeTelegram(t *testing.T) *httptest.Server {
	t.Helper()
	var (
		mu     sync.Mutex
		served bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch path.Base(r.URL.Path) {
		case "getMe":
			fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Relay","username":"relay_bot"}}`)
		case "getUpdates":
			mu.Lock()
			first := !served
			served = true
			mu.Unlock()
			if !first {
				fmt.Fprint(w, `{"ok":true,"result":[]}`)
				return
			}
			fmt.Fprint(w, `{"ok":true,"result":[
				{"update_id":1,"message":{"message_id":1,"date":0,"chat":{"id":-100,"type":"group","title":"Ops"}}},
				{"update_id":2,"message":{"message_id":2,"date":0,"chat":{"id":42,"type":"private","first_name":"Alice"}}},
				{"update_id":3,"message":{"message_id":3,"date":0,"chat":{"id":-100,"type":"group","title":"Ops"}}}
			]}`)
		default:
			fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"Bad Request"}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_ListChatsUsesStore(t *testing.T) {
	home := isolate(t)
	srv := fakeTelegram(t)

	cfgPath := filepath.Join(home, "config.json")
	cfg := map[string]any{
		"telegram": map[string]any{"apiEndpoint": srv.URL + "/bot%s/%s"},
		"store":    map[string]any{"enabled": true, "dbPath": filepath.Join(home, "chats.db")},
	}
	data, _ := json.Marshal(cfg)
	os.WriteFile(cfgPath, data, 0o600)

	args := []string{"-c", cfgPath, "--api-id", "123456", "--api-hash", "secret", "--list-chats"}
	want := "-100: Ops\n42: Alice\n"

	for i := 0; i < 2; i++ {
		code, stdout, stderr := runApp(t, context.Background(), strings.NewReader(""), args...)
		if code != 0 {
			t.Fatalf("run %d: exit %d, stderr: %s", i, code, stderr)
		}
		if stdout != want {
			t.Fatalf("run %d: stdout %q, want %q", i, stdout, want)
		}
	}
}

func TestConfigCommands(t *testing.T) {
	home := isolate(t)
	cfgPath := filepath.Join(home, "conf", "telesend.yaml")

	code, stdout, stderr := runApp(t, context.Background(), nil, "config", "init", "-c", cfgPath)
	if code != 0 {
		t.Fatalf("init: exit %d, stderr: %s", code, stderr)
	}
	if strings.TrimSpace(stdout) != cfgPath {
		t.Fatalf("init printed %q", stdout)
	}

	code, _, _ = runApp(t, context.Background(), nil, "config", "init", "-c", cfgPath)
	if code != 1 {
		t.Fatal("init should refuse to overwrite without --force")
	}

	t.Setenv("TELESEND_API_HASH", "0123456789abcdef")
	code, stdout, stderr = runApp(t, context.Background(), nil, "config", "show", "-c", cfgPath)
	if code != 0 {
		t.Fatalf("show: exit %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, `"apiHash": "0123****cdef"`) {
		t.Fatalf("show should mask secrets: %s", stdout)
	}

	code, stdout, _ = runApp(t, context.Background(), nil, "config", "path", "-c", cfgPath)
	if code != 0 || strings.TrimSpace(stdout) != cfgPath {
		t.Fatalf("path: exit %d, stdout %q", code, stdout)
	}
}
