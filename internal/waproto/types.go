// Package waproto defines the protocol-client capability the gateway
// is written against: the socket contract, its event stream, and the
// wire-level message shapes the inbound pipeline inspects. The
// production implementation lives in internal/wameow.
package waproto

import "encoding/json"

// MessageKey identifies a message within a chat.
type MessageKey struct {
	RemoteJID string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

// MediaKind tags which media slot of a message is populated.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaDocument MediaKind = "document"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaSticker  MediaKind = "sticker"
	MediaPTV      MediaKind = "ptv"
)

// DefaultExt returns the fallback file extension for the kind, used
// when the declared MIME type carries no usable subtype.
func (k MediaKind) DefaultExt() string {
	switch k {
	case MediaImage:
		return "png"
	case MediaDocument:
		return "pdf"
	case MediaVideo, MediaPTV:
		return "mp4"
	case MediaAudio:
		return "mp3"
	case MediaSticker:
		return "webp"
	default:
		return "bin"
	}
}

// MediaPointer is the key material and remote location of one piece of
// downloadable media.
type MediaPointer struct {
	URL           string `json:"url,omitempty"`
	DirectPath    string `json:"directPath,omitempty"`
	MediaKey      []byte `json:"mediaKey,omitempty"`
	Mimetype      string `json:"mimetype,omitempty"`
	FileSHA256    []byte `json:"fileSha256,omitempty"`
	FileEncSHA256 []byte `json:"fileEncSha256,omitempty"`
	FileLength    uint64 `json:"fileLength,omitempty"`
	Caption       string `json:"caption,omitempty"`
	FileName      string `json:"fileName,omitempty"`
}

// ContextInfo carries quote context on an extended message.
type ContextInfo struct {
	StanzaID      string       `json:"stanzaId,omitempty"`
	Participant   string       `json:"participant,omitempty"`
	QuotedMessage *WireMessage `json:"quotedMessage,omitempty"`
}

// ExtendedTextMessage is a text body with optional context.
type ExtendedTextMessage struct {
	Text        string       `json:"text,omitempty"`
	ContextInfo *ContextInfo `json:"contextInfo,omitempty"`
}

// Protocol control message types the pipeline must recognize.
const (
	ProtoHistorySyncNotification = "HISTORY_SYNC_NOTIFICATION"
	ProtoAppStateKeyShare        = "APP_STATE_SYNC_KEY_SHARE"
	ProtoAppStateKeyRequest      = "APP_STATE_SYNC_KEY_REQUEST"
	ProtoInitialSecurity         = "INITIAL_SECURITY_NOTIFICATION_SETTING_SYNC"
	ProtoMessageEdit             = "MESSAGE_EDIT"
)

// ProtocolMessage is a non-chat control message.
type ProtocolMessage struct {
	Type          string       `json:"type,omitempty"`
	EditedMessage *WireMessage `json:"editedMessage,omitempty"`
}

// ChildMessage wraps a nested sub-message.
type ChildMessage struct {
	Message *WireMessage `json:"message,omitempty"`
}

// WireMessage mirrors the protocol message payload far enough for
// classification, text extraction and media-pointer lookup. Everything
// else rides along in the envelope's raw payload.
type WireMessage struct {
	Conversation    string               `json:"conversation,omitempty"`
	ExtendedText    *ExtendedTextMessage `json:"extendedTextMessage,omitempty"`
	Image           *MediaPointer        `json:"imageMessage,omitempty"`
	Document        *MediaPointer        `json:"documentMessage,omitempty"`
	Video           *MediaPointer        `json:"videoMessage,omitempty"`
	Audio           *MediaPointer        `json:"audioMessage,omitempty"`
	Sticker         *MediaPointer        `json:"stickerMessage,omitempty"`
	PTV             *MediaPointer        `json:"ptvMessage,omitempty"`
	Protocol        *ProtocolMessage     `json:"protocolMessage,omitempty"`
	AssociatedChild *ChildMessage        `json:"associatedChildMessage,omitempty"`
}

// IsControl reports whether the message is a history-sync or app-state
// control message that must never be persisted or notified.
func (m *WireMessage) IsControl() bool {
	if m == nil || m.Protocol == nil {
		return false
	}
	switch m.Protocol.Type {
	case ProtoHistorySyncNotification, ProtoAppStateKeyShare,
		ProtoAppStateKeyRequest, ProtoInitialSecurity:
		return true
	}
	return false
}

// Quoted returns the quoted sub-message, if any.
func (m *WireMessage) Quoted() *WireMessage {
	if m == nil || m.ExtendedText == nil || m.ExtendedText.ContextInfo == nil {
		return nil
	}
	return m.ExtendedText.ContextInfo.QuotedMessage
}

// Child returns the wrapped child sub-message, if any.
func (m *WireMessage) Child() *WireMessage {
	if m == nil || m.AssociatedChild == nil {
		return nil
	}
	return m.AssociatedChild.Message
}

// Text extracts the best-effort text body: the plain body, the
// extended-text body, or an edit's replacement body.
func (m *WireMessage) Text() string {
	if m == nil {
		return ""
	}
	if m.Conversation != "" {
		return m.Conversation
	}
	if m.ExtendedText != nil && m.ExtendedText.Text != "" {
		return m.ExtendedText.Text
	}
	if m.Protocol != nil && m.Protocol.EditedMessage != nil {
		return m.Protocol.EditedMessage.Text()
	}
	return ""
}

// Envelope is one inbound message event.
type Envelope struct {
	Key       MessageKey      `json:"key"`
	Message   *WireMessage    `json:"message,omitempty"`
	PushName  string          `json:"pushName,omitempty"`
	Status    int             `json:"status,omitempty"`
	Timestamp int64           `json:"messageTimestamp,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// MessageUpdate is one delivery-ack transition.
type MessageUpdate struct {
	Key    MessageKey `json:"key"`
	Status int        `json:"status"`
}

// WireContact is one contact entry from a history replay.
type WireContact struct {
	JID          string `json:"id"`
	Name         string `json:"name,omitempty"`
	Notify       string `json:"notify,omitempty"`
	VerifiedName string `json:"verifiedName,omitempty"`
}
