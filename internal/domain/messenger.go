package domain

import "context"

// Target is a resolved destination chat. ID is the platform's chat identifier.
type Target struct {
	ID    string
	Title string
}

// Chat is one entry of a chat listing. Chats without a title are not listed.
type Chat struct {
	ID    string
	Title string
}

// Messenger is an authenticated session against a messaging platform.
// Implementations are not safe for concurrent use; callers issue one
// operation at a time.
type Messenger interface {
	Name() string
	ResolveChat(ctx context.Context, identifier string) (Target, error)
	ListChats(ctx context.Context) ([]Chat, error)
	SendText(ctx context.Context, target Target, body string, mode RenderMode) error
	SendFile(ctx context.Context, target Target, file Attachment) error
	Close() error
}
