package webapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// getWebhookVerify answers the Cloud API subscription handshake: echo the
// challenge back when the verify token belongs to a registered
// integration.
func (s *Server) getWebhookVerify(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	challenge := c.QueryParam("hub.challenge")
	if mode != "subscribe" || token == "" {
		return c.NoContent(http.StatusForbidden)
	}
	if _, err := s.store.FindIntegrationByVerifyToken(c.Request().Context(), token); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.NoContent(http.StatusForbidden)
		}
		return fail(c, http.StatusInternalServerError, "QUERY_FAILED", "Unable to verify token", err.Error())
	}
	return c.String(http.StatusOK, challenge)
}

// postWebhook accepts Cloud API deliveries. The provider retries on
// non-2xx, so decoding problems are logged and acknowledged anyway;
// dedup downstream makes redelivery harmless.
func (s *Server) postWebhook(c echo.Context) error {
	var payload map[string]interface{}
	if err := c.Bind(&payload); err != nil {
		zap.L().Warn("webapi: undecodable webhook payload", zap.Error(err))
		return c.NoContent(http.StatusOK)
	}
	if err := s.wa.HandleCloudWebhook(c.Request().Context(), payload); err != nil {
		zap.L().Error("webapi: handle webhook", zap.Error(err))
	}
	return c.NoContent(http.StatusOK)
}

// postConnectCloud registers (or refreshes) the account's Cloud API
// integration. The integration stays pending until the first webhook
// delivery proves the subscription works.
func (s *Server) postConnectCloud(c echo.Context) error {
	var payload struct {
		PhoneNumberID string `json:"phone_number_id"`
		VerifyToken   string `json:"verify_token"`
		AccessToken   string `json:"access_token"`
		WebhookURL    string `json:"webhook_url"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.PhoneNumberID == "" || payload.VerifyToken == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "phone_number_id and verify_token are required", nil)
	}
	integ, err := s.store.SaveCloudIntegration(c.Request().Context(), accountID(c),
		payload.PhoneNumberID, payload.VerifyToken, payload.AccessToken, payload.WebhookURL)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "SAVE_FAILED", "Unable to save integration", err.Error())
	}
	return ok(c, integ)
}
