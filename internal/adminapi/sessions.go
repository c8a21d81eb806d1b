package adminapi

import (
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/mdp/qrterminal/v3"

	"github.com/bjo163/wagate/internal/webserver"
)

func registerSessionRoutes() {
	webserver.ApiPOST("/sessions", postCreateSession)
	webserver.ApiGET("/sessions", listSessions)
	webserver.ApiGET("/sessions/:name", getSessionStatus)
	webserver.ApiGET("/sessions/:name/qr", getSessionQR)
	webserver.ApiGET("/sessions/:name/pairing-code", getSessionPairingCode)
	webserver.ApiPOST("/sessions/:name/restart", postRestartSession)
	webserver.ApiDELETE("/sessions/:name", deleteSession)
}

// postCreateSession registers a session and starts its runtime.
// Request JSON: {"session_name": "...", "webhook_url": "...", "phone_number": "..."}
// A phone number switches the session to pairing-code login.
func postCreateSession(c echo.Context) error {
	var payload struct {
		SessionName string `json:"session_name"`
		WebhookURL  string `json:"webhook_url"`
		PhoneNumber string `json:"phone_number"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.SessionName == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "session_name is required", nil)
	}

	sess, err := service.CreateSession(c.Request().Context(),
		payload.SessionName, payload.WebhookURL, payload.PhoneNumber)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, sess)
}

func listSessions(c echo.Context) error {
	sessions, err := service.GetAllSessions()
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, map[string]interface{}{"sessions": sessions})
}

func getSessionStatus(c echo.Context) error {
	status, err := service.GetSessionStatus(c.Param("name"))
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, status)
}

// getSessionQR returns the raw QR payload for client-side rendering.
// With debug enabled the code is also drawn on the process terminal.
func getSessionQR(c echo.Context) error {
	status, err := service.GetSessionStatus(c.Param("name"))
	if err != nil {
		return failErr(c, err)
	}
	if status.QrCode != "" && appCtx().Config().Whatsapp.PrintQR {
		qrterminal.GenerateHalfBlock(status.QrCode, qrterminal.L, os.Stdout)
	}
	return ok(c, map[string]interface{}{
		"code":   status.QrCode,
		"has_qr": status.QrCode != "",
		"status": status.Status,
	})
}

func getSessionPairingCode(c echo.Context) error {
	status, err := service.GetSessionStatus(c.Param("name"))
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, map[string]interface{}{
		"pairing_code":   status.PairingCode,
		"pairing_status": status.PairingStatus,
		"status":         status.Status,
	})
}

func postRestartSession(c echo.Context) error {
	sess, err := service.RestartSession(c.Request().Context(), c.Param("name"))
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, sess)
}

func deleteSession(c echo.Context) error {
	if err := service.DeleteSession(c.Request().Context(), c.Param("name")); err != nil {
		return failErr(c, err)
	}
	return ok(c, map[string]interface{}{"deleted": true})
}
