package adminapi

import (
	"encoding/base64"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/bjo163/wagate/internal/domain"
	"github.com/bjo163/wagate/internal/webserver"
	"github.com/bjo163/wagate/internal/whatsapp"
)

func registerChatRoutes() {
	webserver.ApiPOST("/chat/send", postChatSend)
	webserver.ApiPOST("/chat/read", postChatRead)
	webserver.ApiPOST("/chat/typing", postChatTyping)
}

// postChatSend sends one message through a live session.
// Request JSON: {"session_name": "...", "to": "...", "type": "text|image|document",
// "text": "...", "url": "...", "buffer": "<base64>", "caption": "...",
// "file_name": "...", "mimetype": "...", "quoted_id": "..."}
func postChatSend(c echo.Context) error {
	var payload struct {
		SessionName string `json:"session_name"`
		To          string `json:"to"`
		Type        string `json:"type"`
		Text        string `json:"text"`
		URL         string `json:"url"`
		Buffer      string `json:"buffer"`
		Caption     string `json:"caption"`
		FileName    string `json:"file_name"`
		Mimetype    string `json:"mimetype"`
		QuotedID    string `json:"quoted_id"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.SessionName == "" || payload.To == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "session_name and to are required", nil)
	}
	if payload.Type == "" {
		payload.Type = whatsapp.KindText
	}

	var buf []byte
	if payload.Buffer != "" {
		var err error
		buf, err = base64.StdEncoding.DecodeString(payload.Buffer)
		if err != nil {
			return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "buffer must be base64", err.Error())
		}
	}

	msgID, err := service.SendMessage(c.Request().Context(),
		payload.SessionName, payload.To, payload.Type,
		&whatsapp.OutgoingPayload{
			Text:     payload.Text,
			URL:      payload.URL,
			Buffer:   buf,
			Caption:  payload.Caption,
			FileName: payload.FileName,
			Mimetype: payload.Mimetype,
		}, payload.QuotedID)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, map[string]interface{}{"message_id": msgID})
}

// postChatRead acks messages as read. Without message_ids every stored
// unread inbound message of the session is acked.
func postChatRead(c echo.Context) error {
	var payload struct {
		SessionName string   `json:"session_name"`
		To          string   `json:"to"`
		MessageIDs  []string `json:"message_ids"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.SessionName == "" || payload.To == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "session_name and to are required", nil)
	}

	var sess domain.Session
	if err := GetDB(c).Where("session_name = ?", payload.SessionName).First(&sess).Error; err != nil {
		return failErr(c, whatsapp.ErrSessionNotFound(payload.SessionName))
	}
	if err := service.SendRead(c.Request().Context(), &sess, payload.To, payload.MessageIDs); err != nil {
		return failErr(c, err)
	}
	return ok(c, map[string]interface{}{"read": true})
}

// postChatTyping publishes a typing indicator; state is "start" or
// "stop".
func postChatTyping(c echo.Context) error {
	var payload struct {
		SessionName string `json:"session_name"`
		To          string `json:"to"`
		State       string `json:"state"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.SessionName == "" || payload.To == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "session_name and to are required", nil)
	}

	var err error
	if payload.State == "stop" {
		err = service.StopTyping(c.Request().Context(), payload.SessionName, payload.To)
	} else {
		err = service.SendTyping(c.Request().Context(), payload.SessionName, payload.To)
	}
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, map[string]interface{}{"state": payload.State})
}
