// Package driver defines the contract between the orchestration core and a
// concrete WhatsApp session implementation. The protocol itself is a black
// box: the core only sees connect/send/fetch primitives and event hooks.
package driver

import (
	"context"

	"github.com/pkg/errors"
)

// ErrRuntimeMissing marks bootstrap failures caused by a missing runtime
// dependency (browser binary, sqlite driver, ...). The orchestrator reports
// these with a distinct reason so operators know a retry will not help.
var ErrRuntimeMissing = errors.New("driver runtime dependency missing")

// RawMessage is the opaque provider payload. Field layouts differ per
// channel; the ingestion engine probes well-known locations with loose
// casting instead of binding to a schema.
type RawMessage map[string]interface{}

type SendOptions struct {
	// QuotedMessageID requests reply-quoting of an earlier message. Quoting
	// is best-effort: senders fall back to a plain send when the quoted
	// attempt fails.
	QuotedMessageID string
}

type SendResult struct {
	ID  string
	Ack int
}

type Chat struct {
	ID      string
	Name    string
	IsGroup bool
}

// Hooks receive asynchronous session events. All callbacks may be invoked
// from driver-internal goroutines and must not block.
type Hooks struct {
	OnQRCode         func(code string)
	OnConnected      func()
	OnDisconnected   func(reason string)
	OnMessage        func(raw RawMessage)
	OnAck            func(providerMessageID string, ack int)
	OnDecryptFailure func()
}

// Handle is a live session for one account. At most one Handle per account
// exists at any time; the orchestrator releases the old one before creating
// a replacement.
type Handle interface {
	SendText(ctx context.Context, address, body string, opts SendOptions) (SendResult, error)
	Logout() error
	Close() error
}

type Driver interface {
	// Connect bootstraps a session using the artifact directory for the
	// account. It returns quickly; pairing progress and inbound traffic
	// arrive through hooks.
	Connect(ctx context.Context, accountID, sessionDir string, reset bool, hooks Hooks) (Handle, error)
}

// HistoryFetcher is an optional Handle capability for historical backfill.
type HistoryFetcher interface {
	FetchAllChats(ctx context.Context) ([]Chat, error)
	FetchMessagesInChat(ctx context.Context, chatID string) ([]RawMessage, error)
}

// ProfilePhotoFetcher is an optional Handle capability.
type ProfilePhotoFetcher interface {
	ProfilePhoto(ctx context.Context, address string) (string, error)
}

// History returns the history capability of h, if implemented.
func History(h Handle) (HistoryFetcher, bool) {
	f, ok := h.(HistoryFetcher)
	return f, ok
}

// PhotoFetcher returns the profile photo capability of h, if implemented.
func PhotoFetcher(h Handle) (ProfilePhotoFetcher, bool) {
	f, ok := h.(ProfilePhotoFetcher)
	return f, ok
}
