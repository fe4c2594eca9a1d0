package domain

import "strings"

// Kind is the message category of a dispatch request.
type Kind string

const (
	KindText     Kind = "text"
	KindMarkdown Kind = "markdown"
	KindPhoto    Kind = "photo"
	KindVideo    Kind = "video"
	KindFile     Kind = "file"
)

// Kinds lists every recognized kind in grammar order.
var Kinds = []Kind{KindText, KindMarkdown, KindPhoto, KindVideo, KindFile}

// ParseKind matches a kind token case-insensitively.
func ParseKind(token string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(token)))
	for _, known := range Kinds {
		if k == known {
			return k, true
		}
	}
	return "", false
}

// IsAttachment reports whether the kind carries a file path.
func (k Kind) IsAttachment() bool {
	return k == KindPhoto || k == KindVideo || k == KindFile
}

// RenderMode selects how a text body is interpreted by the platform.
type RenderMode int

const (
	RenderPlain RenderMode = iota
	RenderMarkdown
)

func (m RenderMode) String() string {
	if m == RenderMarkdown {
		return "markdown"
	}
	return "plain"
}

// Request is one classified unit of work derived from input.
// Text kinds carry Body only; attachment kinds carry Path and an optional
// caption in Body.
type Request struct {
	Kind Kind
	Body string
	Path string
}

// Caption returns the attachment caption, empty for text kinds.
func (r Request) Caption() string {
	if !r.Kind.IsAttachment() {
		return ""
	}
	return r.Body
}

// Attachment is a file ready to be uploaded to a target.
type Attachment struct {
	Kind      Kind
	Path      string // resolved filesystem path
	Caption   string
	Streaming bool // request streaming-friendly delivery (videos)
}
