package webapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/MatheusHenriquePires/S-crm/internal/wa"
)

// The account is carried on every request; auth itself lives upstream.
const accountHeader = "X-Account-ID"

func (s *Server) registerRoutes() {
	g := s.root.Group("/whatsapp")
	g.GET("/status", s.getStatus)
	g.POST("/connect/qr", s.postConnectQR)
	g.POST("/connect/confirm", s.postConnectConfirm)
	g.POST("/connect/qr/disconnect", s.postDisconnect)
	g.POST("/connect/cloud", s.postConnectCloud)
	g.GET("/webhook", s.getWebhookVerify)
	g.POST("/webhook", s.postWebhook)
	g.GET("/conversations", s.listConversations)
	g.POST("/conversations", s.postConversation)
	g.GET("/conversations/:id/messages", s.listMessages)
	g.POST("/conversations/:id/messages", s.postMessage)
	g.GET("/conversations/:id/messages/:mid/media", s.getMessageMedia)
	g.POST("/conversations/:id/stage", s.postStage)
	g.POST("/conversations/:id/classification", s.postClassification)
	g.POST("/conversations/:id/value", s.postValue)
	g.GET("/stream", s.getStream)
}

func accountID(c echo.Context) string {
	if id := c.Request().Header.Get(accountHeader); id != "" {
		return id
	}
	return "default"
}

// getStatus reports the session state, rehydrating a session whose
// stored credentials outlived the process.
func (s *Server) getStatus(c echo.Context) error {
	acc := accountID(c)
	s.wa.EnsureLiveSocket(acc)
	return ok(c, s.wa.GetStatus(acc))
}

func (s *Server) postConnectQR(c echo.Context) error {
	var payload struct {
		Reset bool `json:"reset"`
	}
	_ = c.Bind(&payload)
	state := s.wa.StartSession(c.Request().Context(), accountID(c), payload.Reset)
	return ok(c, state)
}

func (s *Server) postConnectConfirm(c echo.Context) error {
	return ok(c, s.wa.ConfirmConnected(accountID(c)))
}

func (s *Server) postDisconnect(c echo.Context) error {
	acc := accountID(c)
	if err := s.wa.Disconnect(acc); err != nil {
		zap.L().Error("webapi: disconnect", zap.String("account", acc), zap.Error(err))
		return fail(c, http.StatusInternalServerError, "DISCONNECT_FAILED", "Unable to tear down session", err.Error())
	}
	return ok(c, s.wa.GetStatus(acc))
}

func (s *Server) postMessage(c echo.Context) error {
	convID := cast.ToInt64(c.Param("id"))
	if convID == 0 {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "conversation id is required", nil)
	}
	var payload struct {
		Body    string `json:"body"`
		ReplyTo string `json:"reply_to,omitempty"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.Body == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "body is required", nil)
	}

	res, err := s.wa.SendOutbound(c.Request().Context(), accountID(c), convID, payload.Body, payload.ReplyTo)
	switch {
	case errors.Is(err, wa.ErrNotFound):
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Conversation not found", nil)
	case errors.Is(err, wa.ErrNotConnected):
		return fail(c, http.StatusConflict, "NOT_CONNECTED", "WhatsApp session is not connected", nil)
	case errors.Is(err, wa.ErrInvalidAddress):
		return fail(c, http.StatusUnprocessableEntity, "INVALID_ADDRESS", "Contact phone cannot be addressed", nil)
	case err != nil:
		zap.L().Error("webapi: send message", zap.Int64("conversation", convID), zap.Error(err))
		return fail(c, http.StatusBadGateway, "SEND_FAILED", "Message could not be delivered", err.Error())
	}
	return ok(c, map[string]interface{}{
		"conversation_id": cast.ToString(res.ConversationID),
		"message_id":      cast.ToString(res.MessageID),
		"duplicated":      res.Duplicated,
	})
}
