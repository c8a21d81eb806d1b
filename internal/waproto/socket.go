package waproto

import (
	"context"

	"github.com/bjo163/wagate/internal/credstore"
)

// Connection states reported in a ConnectionUpdate.
const (
	ConnectionOpen  = "open"
	ConnectionClose = "close"
)

// Chat presence states.
const (
	PresenceComposing = "composing"
	PresencePaused    = "paused"
)

// ConnectionUpdate reports a socket lifecycle transition. QR is set
// while the socket is waiting for a scan; LoggedOut distinguishes a
// permanent close from a transient one.
type ConnectionUpdate struct {
	Connection string
	QR         string
	IsNewLogin bool
	LoggedOut  bool
	Reason     string
}

// CredsUpdate signals that credential material changed and must be
// flushed to the credential store.
type CredsUpdate struct{}

// MessagesUpsert carries a batch of inbound messages. Type is "notify"
// for live traffic and "append" for backfill.
type MessagesUpsert struct {
	Messages []*Envelope
	Type     string
}

// MessageUpdates carries delivery-ack transitions.
type MessageUpdates struct {
	Updates []MessageUpdate
}

// HistorySync carries one chunk of the initial history replay.
type HistorySync struct {
	Contacts []WireContact
	Messages []*Envelope
	IsLatest bool
}

// QuoteInfo references a prior message an outbound text replies to.
type QuoteInfo struct {
	ID     string
	Sender string
	Text   string
}

// OutgoingMedia is the content of an outbound media message. Exactly
// one of URL or Buffer must be set.
type OutgoingMedia struct {
	URL      string
	Buffer   []byte
	Caption  string
	FileName string
	Mimetype string
}

// Downloader is the media-download slice of a Socket, used by the
// media resolver.
type Downloader interface {
	// Download fetches and decrypts the media a pointer refers to.
	Download(ctx context.Context, ptr *MediaPointer) ([]byte, error)
	// RefreshMedia asks the server to re-key the envelope's media
	// pointers in place after an expired-URL failure.
	RefreshMedia(ctx context.Context, env *Envelope) error
}

// Socket is one live protocol connection for a single session. All
// methods are safe for concurrent use.
type Socket interface {
	Downloader

	// AddEventHandler registers the event sink. Events are delivered
	// sequentially per socket.
	AddEventHandler(handler func(evt interface{}))

	// Connect starts the connection handshake.
	Connect() error

	// Disconnect tears the socket down without touching credentials.
	Disconnect()

	// Logout invalidates the device registration and disconnects.
	Logout(ctx context.Context) error

	// IsRegistered reports whether the underlying device already holds
	// a server-confirmed registration.
	IsRegistered() bool

	// SelfJID returns the account's own JID, empty before login.
	SelfJID() string

	// RequestPairingCode asks for a phone-number pairing code.
	RequestPairingCode(ctx context.Context, phone string) (string, error)

	// SendText sends a text message, optionally quoting a prior one,
	// and returns the protocol message id.
	SendText(ctx context.Context, to, text string, quote *QuoteInfo) (string, error)

	// SendMedia uploads and sends a media message and returns the
	// protocol message id.
	SendMedia(ctx context.Context, to string, kind MediaKind, media *OutgoingMedia) (string, error)

	// ReadMessages marks the given message ids as read in the chat.
	ReadMessages(ctx context.Context, to string, ids []string) error

	// SendPresence publishes a chat presence state.
	SendPresence(ctx context.Context, to, state string) error

	// ResolveLID maps a lid-server alias JID to its phone-number JID.
	ResolveLID(ctx context.Context, jid string) (string, error)
}

// Factory dials sockets. The orchestrator owns exactly one socket per
// session and rebuilds it through the factory on every (re)connect.
type Factory interface {
	Dial(ctx context.Context, state *credstore.State) (Socket, error)
}
