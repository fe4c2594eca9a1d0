// Package dispatch relays classified input lines to a messaging session.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"telesend/internal/domain"
	"telesend/internal/parser"
)

// Dispatcher reads a batch of input lines and sends each unit, in order, to
// a single resolved target.
type Dispatcher struct {
	client    domain.Messenger
	target    domain.Target
	directory string
	errOut    io.Writer
	logger    *slog.Logger
}

// Config holds the dependencies of a Dispatcher.
type Config struct {
	Client    domain.Messenger
	Target    domain.Target
	Directory string    // base directory for relative attachment paths
	ErrOut    io.Writer // per-line diagnostics (default: os.Stderr)
	Logger    *slog.Logger
}

// Stats counts the units handled by one Run.
type Stats struct {
	Sent   int
	Failed int
}

// New creates a dispatcher for one batch.
func New(cfg Config) *Dispatcher {
	if cfg.ErrOut == nil {
		cfg.ErrOut = os.Stderr
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{
		client:    cfg.Client,
		target:    cfg.Target,
		directory: cfg.Directory,
		errOut:    cfg.ErrOut,
		logger:    cfg.Logger,
	}
}

type inputLine struct {
	text string
	err  error
}

// Run consumes r until EOF. Per-line failures are reported to the error
// stream and counted; Run only returns an error for cancellation, a read
// failure or an unexpected client error.
func (d *Dispatcher) Run(ctx context.Context, r io.Reader) (Stats, error) {
	var stats Stats

	// The reader goroutine exits with Run, whatever the outcome.
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := readLines(readCtx, r)
	p := parser.New()
	lineNo := 0

	for {
		var (
			in inputLine
			ok bool
		)
		select {
		case <-ctx.Done():
			d.logger.Info("batch interrupted", "line", lineNo, "sent", stats.Sent, "failed", stats.Failed)
			return stats, ctx.Err()
		case in, ok = <-lines:
		}

		if !ok {
			break
		}
		if in.err != nil {
			return stats, fmt.Errorf("read input: %w", in.err)
		}

		lineNo++
		res, complete := p.Feed(lineNo, in.text)
		if !complete {
			continue
		}
		if err := d.handle(ctx, res, &stats); err != nil {
			return stats, err
		}
	}

	if res, ok := p.Flush(); ok {
		d.logger.Debug("input ended inside a quoted block", "line", res.Line)
		if err := d.handle(ctx, res, &stats); err != nil {
			return stats, err
		}
	}

	d.logger.Debug("batch complete", "lines", lineNo, "sent", stats.Sent, "failed", stats.Failed)
	return stats, nil
}

func (d *Dispatcher) handle(ctx context.Context, res parser.Result, stats *Stats) error {
	err := res.Err
	if err == nil {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = d.Dispatch(ctx, res.Request)
	}
	if err == nil {
		stats.Sent++
		return nil
	}
	if !domain.IsRecoverable(err) {
		return fmt.Errorf("line %d: %w", res.Line, err)
	}
	stats.Failed++
	d.report(res, err)
	return nil
}

// Dispatch issues one request against the target.
func (d *Dispatcher) Dispatch(ctx context.Context, req domain.Request) error {
	d.logger.Debug("dispatching", "kind", req.Kind, "target", d.target.ID)

	switch req.Kind {
	case domain.KindText:
		return d.client.SendText(ctx, d.target, req.Body, domain.RenderPlain)
	case domain.KindMarkdown:
		return d.client.SendText(ctx, d.target, req.Body, domain.RenderMarkdown)
	case domain.KindPhoto, domain.KindVideo, domain.KindFile:
		path, err := d.resolvePath(req.Path)
		if err != nil {
			return err
		}
		return d.client.SendFile(ctx, d.target, domain.Attachment{
			Kind:      req.Kind,
			Path:      path,
			Caption:   req.Caption(),
			Streaming: req.Kind == domain.KindVideo,
		})
	default:
		return &domain.UnknownKindError{Kind: string(req.Kind)}
	}
}

// resolvePath joins relative paths to the base directory and checks that
// the result is a regular, readable file.
func (d *Dispatcher) resolvePath(path string) (string, error) {
	if !filepath.IsAbs(path) && d.directory != "" {
		path = filepath.Join(d.directory, path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", &domain.FileError{Path: path, Err: err}
	}
	if info.IsDir() {
		return "", &domain.FileError{Path: path, Err: errors.New("is a directory")}
	}
	return path, nil
}

func (d *Dispatcher) report(res parser.Result, err error) {
	var (
		unknown  *domain.UnknownKindError
		parseErr *domain.ParseError
		fileErr  *domain.FileError
		msg      string
	)
	switch {
	case errors.As(err, &unknown):
		msg = "Unknown message type: " + unknown.Kind
	case errors.As(err, &parseErr):
		msg = "Invalid message format: " + parseErr.Reason
	case errors.As(err, &fileErr):
		msg = fileErr.Error()
	default:
		msg = "Failed to send message: " + err.Error()
	}
	fmt.Fprintf(d.errOut, "%s (line %d)\n", msg, res.Line)
	d.logger.Debug("line failed", "line", res.Line, "input", res.Raw, "err", err)
}

// readLines feeds input lines to a channel so that Run can observe
// cancellation while the reader is blocked.
func readLines(ctx context.Context, r io.Reader) <-chan inputLine {
	out := make(chan inputLine)
	go func() {
		defer close(out)
		sc := parser.NewLineScanner(r)
		for sc.Scan() {
			select {
			case out <- inputLine{text: sc.Text()}:
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			select {
			case out <- inputLine{err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return out
}
