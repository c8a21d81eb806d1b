package wameow

import (
	"encoding/json"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/bjo163/wagate/internal/waproto"
)

func toEnvelope(e *events.Message) *waproto.Envelope {
	env := &waproto.Envelope{
		Key: waproto.MessageKey{
			RemoteJID: e.Info.Chat.String(),
			FromMe:    e.Info.IsFromMe,
			ID:        e.Info.ID,
		},
		Message:   toWireMessage(e.Message),
		PushName:  e.Info.PushName,
		Timestamp: e.Info.Timestamp.Unix(),
	}
	if raw, err := json.Marshal(env); err == nil {
		env.Raw = raw
	}
	return env
}

func toPointer(url, directPath string, mediaKey []byte, mimetype string, fileSHA256, fileEncSHA256 []byte, fileLength uint64, caption, fileName string) *waproto.MediaPointer {
	return &waproto.MediaPointer{
		URL:           url,
		DirectPath:    directPath,
		MediaKey:      mediaKey,
		Mimetype:      mimetype,
		FileSHA256:    fileSHA256,
		FileEncSHA256: fileEncSHA256,
		FileLength:    fileLength,
		Caption:       caption,
		FileName:      fileName,
	}
}

// toWireMessage flattens a protocol message into the shapes the
// pipeline inspects. Device-sent wrappers are unwrapped in place.
func toWireMessage(m *waE2E.Message) *waproto.WireMessage {
	if m == nil {
		return nil
	}
	if ds := m.GetDeviceSentMessage(); ds != nil && ds.GetMessage() != nil {
		return toWireMessage(ds.GetMessage())
	}

	w := &waproto.WireMessage{Conversation: m.GetConversation()}

	if et := m.GetExtendedTextMessage(); et != nil {
		ext := &waproto.ExtendedTextMessage{Text: et.GetText()}
		if ci := et.GetContextInfo(); ci != nil {
			ext.ContextInfo = &waproto.ContextInfo{
				StanzaID:      ci.GetStanzaID(),
				Participant:   ci.GetParticipant(),
				QuotedMessage: toWireMessage(ci.GetQuotedMessage()),
			}
		}
		w.ExtendedText = ext
	}

	if im := m.GetImageMessage(); im != nil {
		w.Image = toPointer(im.GetURL(), im.GetDirectPath(), im.GetMediaKey(), im.GetMimetype(),
			im.GetFileSHA256(), im.GetFileEncSHA256(), im.GetFileLength(), im.GetCaption(), "")
	}
	if dm := m.GetDocumentMessage(); dm != nil {
		w.Document = toPointer(dm.GetURL(), dm.GetDirectPath(), dm.GetMediaKey(), dm.GetMimetype(),
			dm.GetFileSHA256(), dm.GetFileEncSHA256(), dm.GetFileLength(), dm.GetCaption(), dm.GetFileName())
	}
	if vm := m.GetVideoMessage(); vm != nil {
		w.Video = toPointer(vm.GetURL(), vm.GetDirectPath(), vm.GetMediaKey(), vm.GetMimetype(),
			vm.GetFileSHA256(), vm.GetFileEncSHA256(), vm.GetFileLength(), vm.GetCaption(), "")
	}
	if am := m.GetAudioMessage(); am != nil {
		w.Audio = toPointer(am.GetURL(), am.GetDirectPath(), am.GetMediaKey(), am.GetMimetype(),
			am.GetFileSHA256(), am.GetFileEncSHA256(), am.GetFileLength(), "", "")
	}
	if sm := m.GetStickerMessage(); sm != nil {
		w.Sticker = toPointer(sm.GetURL(), sm.GetDirectPath(), sm.GetMediaKey(), sm.GetMimetype(),
			sm.GetFileSHA256(), sm.GetFileEncSHA256(), sm.GetFileLength(), "", "")
	}
	if pv := m.GetPtvMessage(); pv != nil {
		w.PTV = toPointer(pv.GetURL(), pv.GetDirectPath(), pv.GetMediaKey(), pv.GetMimetype(),
			pv.GetFileSHA256(), pv.GetFileEncSHA256(), pv.GetFileLength(), pv.GetCaption(), "")
	}

	if pm := m.GetProtocolMessage(); pm != nil {
		w.Protocol = &waproto.ProtocolMessage{
			Type:          pm.GetType().String(),
			EditedMessage: toWireMessage(pm.GetEditedMessage()),
		}
	}
	return w
}

func toUpdates(e *events.Receipt) []waproto.MessageUpdate {
	var status int
	switch e.Type {
	case waTypes.ReceiptTypeDelivered:
		status = 3
	case waTypes.ReceiptTypeRead:
		status = 4
	case waTypes.ReceiptTypePlayed:
		status = 5
	default:
		return nil
	}
	updates := make([]waproto.MessageUpdate, 0, len(e.MessageIDs))
	for _, id := range e.MessageIDs {
		updates = append(updates, waproto.MessageUpdate{
			Key: waproto.MessageKey{
				RemoteJID: e.Chat.String(),
				FromMe:    true,
				ID:        id,
			},
			Status: status,
		})
	}
	return updates
}

func toHistorySync(e *events.HistorySync) *waproto.HistorySync {
	out := &waproto.HistorySync{
		IsLatest: e.Data.GetProgress() >= 100,
	}

	for _, pn := range e.Data.GetPushnames() {
		out.Contacts = append(out.Contacts, waproto.WireContact{
			JID:    pn.GetID(),
			Notify: pn.GetPushname(),
		})
	}

	for _, conv := range e.Data.GetConversations() {
		chat := conv.GetID()
		for _, hmsg := range conv.GetMessages() {
			wmi := hmsg.GetMessage()
			if wmi == nil {
				continue
			}
			key := wmi.GetKey()
			env := &waproto.Envelope{
				Key: waproto.MessageKey{
					RemoteJID: chat,
					FromMe:    key.GetFromMe(),
					ID:        key.GetID(),
				},
				Message:   toWireMessage(wmi.GetMessage()),
				PushName:  wmi.GetPushName(),
				Status:    int(wmi.GetStatus()),
				Timestamp: int64(wmi.GetMessageTimestamp()),
			}
			if key.GetRemoteJID() != "" {
				env.Key.RemoteJID = key.GetRemoteJID()
			}
			if raw, err := json.Marshal(env); err == nil {
				env.Raw = raw
			}
			out.Messages = append(out.Messages, env)
		}
	}
	return out
}
