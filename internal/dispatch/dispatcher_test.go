package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"telesend/internal/domain"
)

type sent struct {
	kind   domain.Kind
	body   string
	path   string
	mode   domain.RenderMode
	stream bool
	chatID string
}

// fakeMessenger records sends and fails the ones whose body is listed in failOn.
type fakeMessenger struct {
	sent   []sent
	failOn map[string]error
	onSend func()
	closed bool
}

func (f *fakeMessenger) Name() string { return "fake" }

func (f *fakeMessenger) ResolveChat(ctx context.Context, id string) (domain.Target, error) {
	return domain.Target{ID: id}, nil
}

func (f *fakeMessenger) ListChats(ctx context.Context) ([]domain.Chat, error) { return nil, nil }

func (f *fakeMessenger) SendText(ctx context.Context, target domain.Target, body string, mode domain.RenderMode) error {
	if f.onSend != nil {
		f.onSend()
	}
	if err := f.failOn[body]; err != nil {
		return err
	}
	kind := domain.KindText
	if mode == domain.RenderMarkdown {
		kind = domain.KindMarkdown
	}
	f.sent = append(f.sent, sent{kind: kind, body: body, mode: mode, chatID: target.ID})
	return nil
}

func (f *fakeMessenger) SendFile(ctx context.Context, target domain.Target, file domain.Attachment) error {
	if f.onSend != nil {
		f.onSend()
	}
	if err := f.failOn[file.Path]; err != nil {
		return err
	}
	f.sent = append(f.sent, sent{kind: file.Kind, body: file.Caption, path: file.Path, stream: file.Streaming, chatID: target.ID})
	return nil
}

func (f *fakeMessenger) Close() error {
	f.closed = true
	return nil
}

func newTestDispatcher(client domain.Messenger, dir string) (*Dispatcher, *bytes.Buffer) {
	var errOut bytes.Buffer
	d := New(Config{
		Client:    client,
		Target:    domain.Target{ID: "42"},
		Directory: dir,
		ErrOut:    &errOut,
	})
	return d, &errOut
}

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_SendsInOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.jpg")
	writeFile(t, dir, "clip.mp4")

	client := &fakeMessenger{}
	d, errOut := newTestDispatcher(client, dir)

	input := "hello\nmarkdown:*bold*\nphoto:a.jpg:nice\nvideo:clip.mp4\n"
	stats, err := d.Run(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if errOut.Len() != 0 {
		t.Fatalf("unexpected diagnostics: %q", errOut.String())
	}
	if stats.Sent != 4 || stats.Failed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	want := []sent{
		{kind: domain.KindText, body: "hello", mode: domain.RenderPlain, chatID: "42"},
		{kind: domain.KindMarkdown, body: "*bold*", mode: domain.RenderMarkdown, chatID: "42"},
		{kind: domain.KindPhoto, body: "nice", path: filepath.Join(dir, "a.jpg"), chatID: "42"},
		{kind: domain.KindVideo, path: filepath.Join(dir, "clip.mp4"), stream: true, chatID: "42"},
	}
	if len(client.sent) != len(want) {
		t.Fatalf("expected %d sends, got %d: %+v", len(want), len(client.sent), client.sent)
	}
	for i := range want {
		if client.sent[i] != want[i] {
			t.Fatalf("send %d: expected %+v, got %+v", i, want[i], client.sent[i])
		}
	}
}

func TestRun_FileNotFoundContinues(t *testing.T) {
	client := &fakeMessenger{}
	d, errOut := newTestDispatcher(client, "/data")

	stats, err := d.Run(context.Background(), strings.NewReader("file:report.pdf:Q3 results\ntext:next"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(errOut.String(), "File not found: /data/report.pdf") {
		t.Fatalf("expected file-not-found diagnostic, got %q", errOut.String())
	}
	if stats.Failed != 1 || stats.Sent != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(client.sent) != 1 || client.sent[0].body != "next" {
		t.Fatalf("unexpected sends: %+v", client.sent)
	}
}

func TestRun_DirectoryJoinsRelativePath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "report.pdf")

	client := &fakeMessenger{}
	d, _ := newTestDispatcher(client, dir)

	if _, err := d.Run(context.Background(), strings.NewReader("file:report.pdf:Q3 results")); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(client.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(client.sent))
	}
	got := client.sent[0]
	if got.path != filepath.Join(dir, "report.pdf") || got.body != "Q3 results" || got.stream {
		t.Fatalf("unexpected send: %+v", got)
	}
}

func TestRun_AbsolutePathIgnoresDirectory(t *testing.T) {
	dir := t.TempDir()
	abs := writeFile(t, dir, "a.jpg")

	client := &fakeMessenger{}
	d, _ := newTestDispatcher(client, "/elsewhere")

	if _, err := d.Run(context.Background(), strings.NewReader("photo:"+abs)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(client.sent) != 1 || client.sent[0].path != abs {
		t.Fatalf("unexpected sends: %+v", client.sent)
	}
}

func TestRun_DirectoryIsNotAFile(t *testing.T) {
	dir := t.TempDir()
	client := &fakeMessenger{}
	d, errOut := newTestDispatcher(client, "")

	if _, err := d.Run(context.Background(), strings.NewReader("file:"+dir)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(errOut.String(), "Invalid file") {
		t.Fatalf("expected invalid file diagnostic, got %q", errOut.String())
	}
	if len(client.sent) != 0 {
		t.Fatalf("expected no sends, got %+v", client.sent)
	}
}

func TestRun_UnknownKindSkipped(t *testing.T) {
	client := &fakeMessenger{}
	d, errOut := newTestDispatcher(client, "")

	stats, err := d.Run(context.Background(), strings.NewReader("sticker:foo\ntext:after"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := errOut.String(); got != "Unknown message type: sticker (line 1)\n" {
		t.Fatalf("unexpected diagnostics: %q", got)
	}
	if stats.Failed != 1 || len(client.sent) != 1 || client.sent[0].body != "after" {
		t.Fatalf("unexpected result: stats=%+v sent=%+v", stats, client.sent)
	}
}

func TestRun_DeliveryFailureContinues(t *testing.T) {
	client := &fakeMessenger{failOn: map[string]error{
		"two": &domain.DeliveryError{Op: "send message", Err: errors.New("Forbidden: bot was blocked by the user")},
	}}
	d, errOut := newTestDispatcher(client, "")

	stats, err := d.Run(context.Background(), strings.NewReader("one\ntwo\nthree"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(errOut.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one diagnostic line, got %q", errOut.String())
	}
	if !strings.HasPrefix(lines[0], "Failed to send message: send message: Forbidden") || !strings.HasSuffix(lines[0], "(line 2)") {
		t.Fatalf("unexpected diagnostic: %q", lines[0])
	}
	if stats.Sent != 2 || stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if client.sent[0].body != "one" || client.sent[1].body != "three" {
		t.Fatalf("unexpected order: %+v", client.sent)
	}
}

func TestRun_UnexpectedErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	client := &fakeMessenger{failOn: map[string]error{"two": boom}}
	d, _ := newTestDispatcher(client, "")

	_, err := d.Run(context.Background(), strings.NewReader("one\ntwo\nthree"))
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(client.sent) != 1 {
		t.Fatalf("expected the batch to stop after the failure, got %+v", client.sent)
	}
}

func TestRun_AbortStopsInputReader(t *testing.T) {
	boom := errors.New("boom")
	client := &fakeMessenger{failOn: map[string]error{"two": boom}}
	d, _ := newTestDispatcher(client, "")

	r, w := io.Pipe()
	go func() {
		io.WriteString(w, "one\ntwo\nthree\nfour\n")
	}()
	defer w.Close()

	before := runtime.NumGoroutine()
	if _, err := d.Run(context.Background(), r); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if after := runtime.NumGoroutine(); after > before {
		t.Fatalf("input reader still running: goroutines before=%d after=%d", before, after)
	}
}

func TestRun_QuotedBlock(t *testing.T) {
	client := &fakeMessenger{}
	d, _ := newTestDispatcher(client, "")

	if _, err := d.Run(context.Background(), strings.NewReader("text:\"Hello\nworld\"\n")); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(client.sent) != 1 || client.sent[0].body != "Hello\nworld" {
		t.Fatalf("unexpected sends: %+v", client.sent)
	}
}

func TestRun_UnterminatedBlockIsSent(t *testing.T) {
	client := &fakeMessenger{}
	d, errOut := newTestDispatcher(client, "")

	stats, err := d.Run(context.Background(), strings.NewReader("text:\"Hello\nworld"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if errOut.Len() != 0 {
		t.Fatalf("unexpected diagnostics: %q", errOut.String())
	}
	if stats.Sent != 1 || client.sent[0].body != "\"Hello\nworld" {
		t.Fatalf("unexpected result: stats=%+v sent=%+v", stats, client.sent)
	}
}

func TestRun_CancelStopsBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeMessenger{}
	client.onSend = func() {
		if len(client.sent) == 1 {
			cancel()
		}
	}
	d, _ := newTestDispatcher(client, "")

	_, err := d.Run(ctx, strings.NewReader("one\ntwo\nthree\nfour"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(client.sent) != 2 {
		t.Fatalf("expected sends to stop after cancel, got %+v", client.sent)
	}
}

func TestRun_CancelWhileWaitingForInput(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	defer pw.Close()

	client := &fakeMessenger{}
	d, _ := newTestDispatcher(client, "")

	done := make(chan error, 1)
	go func() {
		_, err := d.Run(ctx, pr)
		done <- err
	}()

	if _, err := pw.Write([]byte("first\n")); err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
