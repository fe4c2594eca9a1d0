package messenger

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"telesend/internal/domain"
)

// DryRun prints every request instead of sending it.
type DryRun struct {
	mu  sync.Mutex
	out io.Writer
}

func NewDryRun(out io.Writer) *DryRun {
	return &DryRun{out: out}
}

func (d *DryRun) Name() string { return "dry-run" }

// ResolveChat accepts any non-empty identifier.
func (d *DryRun) ResolveChat(_ context.Context, identifier string) (domain.Target, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return domain.Target{}, &domain.InvalidChatError{ID: identifier, Err: fmt.Errorf("empty chat ID")}
	}
	return domain.Target{ID: identifier, Title: identifier}, nil
}

func (d *DryRun) ListChats(context.Context) ([]domain.Chat, error) { return nil, nil }

func (d *DryRun) SendText(ctx context.Context, target domain.Target, body string, mode domain.RenderMode) error {
	kind := domain.KindText
	if mode == domain.RenderMarkdown {
		kind = domain.KindMarkdown
	}
	return d.print(ctx, kind, target, body)
}

func (d *DryRun) SendFile(ctx context.Context, target domain.Target, file domain.Attachment) error {
	line := file.Path
	if file.Caption != "" {
		line += " (" + file.Caption + ")"
	}
	return d.print(ctx, file.Kind, target, line)
}

func (d *DryRun) print(ctx context.Context, kind domain.Kind, target domain.Target, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := fmt.Fprintf(d.out, "[%s] %s: %s\n", kind, target.ID, line); err != nil {
		return &domain.DeliveryError{Op: "print " + string(kind), Err: err}
	}
	return nil
}

func (d *DryRun) Close() error { return nil }
