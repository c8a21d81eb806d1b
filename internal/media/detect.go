// Package media turns inbound media messages into durable public URLs:
// it finds the media pointer inside a message, downloads the bytes
// through the protocol socket (refreshing expired pointers once), and
// uploads them to the configured storage backend.
package media

import "github.com/bjo163/wagate/internal/waproto"

type extractor struct {
	kind waproto.MediaKind
	get  func(*waproto.WireMessage) *waproto.MediaPointer
}

// Slot order within a message. Extending media support means adding a
// row here, nothing else.
var slots = []extractor{
	{waproto.MediaImage, func(m *waproto.WireMessage) *waproto.MediaPointer { return m.Image }},
	{waproto.MediaDocument, func(m *waproto.WireMessage) *waproto.MediaPointer { return m.Document }},
	{waproto.MediaVideo, func(m *waproto.WireMessage) *waproto.MediaPointer { return m.Video }},
	{waproto.MediaAudio, func(m *waproto.WireMessage) *waproto.MediaPointer { return m.Audio }},
	{waproto.MediaSticker, func(m *waproto.WireMessage) *waproto.MediaPointer { return m.Sticker }},
	{waproto.MediaPTV, func(m *waproto.WireMessage) *waproto.MediaPointer { return m.PTV }},
}

func sources(m *waproto.WireMessage) []*waproto.WireMessage {
	return []*waproto.WireMessage{m, m.Quoted(), m.Child()}
}

// Detect returns the first media pointer present in the message,
// scanning the direct payload, then the quoted message, then the
// wrapped child message. It returns a nil pointer when the message
// carries no media.
func Detect(m *waproto.WireMessage) (waproto.MediaKind, *waproto.MediaPointer) {
	if m == nil {
		return "", nil
	}
	for _, src := range sources(m) {
		if src == nil {
			continue
		}
		for _, s := range slots {
			if ptr := s.get(src); ptr != nil {
				return s.kind, ptr
			}
		}
	}
	return "", nil
}

// detectKind re-extracts the pointer for a known kind, used after a
// pointer refresh rewrote the message in place.
func detectKind(m *waproto.WireMessage, kind waproto.MediaKind) *waproto.MediaPointer {
	if m == nil {
		return nil
	}
	for _, src := range sources(m) {
		if src == nil {
			continue
		}
		for _, s := range slots {
			if s.kind != kind {
				continue
			}
			if ptr := s.get(src); ptr != nil {
				return ptr
			}
		}
	}
	return nil
}
