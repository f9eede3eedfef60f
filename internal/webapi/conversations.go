package webapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"gorm.io/gorm"

	"github.com/MatheusHenriquePires/S-crm/internal/domain"
	"github.com/MatheusHenriquePires/S-crm/internal/store"
	"github.com/MatheusHenriquePires/S-crm/internal/wa"
)

func parseSince(c echo.Context) (*time.Time, error) {
	v := c.QueryParam("since")
	if v == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

func (s *Server) listConversations(c echo.Context) error {
	since, err := parseSince(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "since must be RFC3339", err.Error())
	}
	items, err := s.store.ListConversationsSince(c.Request().Context(), accountID(c), since)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "QUERY_FAILED", "Unable to list conversations", err.Error())
	}
	return ok(c, items)
}

func (s *Server) listMessages(c echo.Context) error {
	convID := cast.ToInt64(c.Param("id"))
	acc := accountID(c)
	if _, err := s.store.GetConversation(c.Request().Context(), acc, convID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fail(c, http.StatusNotFound, "NOT_FOUND", "Conversation not found", nil)
		}
		return fail(c, http.StatusInternalServerError, "QUERY_FAILED", "Unable to load conversation", err.Error())
	}
	since, err := parseSince(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "since must be RFC3339", err.Error())
	}
	items, err := s.store.ListMessagesSince(c.Request().Context(), convID, since)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "QUERY_FAILED", "Unable to list messages", err.Error())
	}
	return ok(c, items)
}

// postConversation registers a lead manually, before any message exists.
func (s *Server) postConversation(c echo.Context) error {
	var payload struct {
		Phone          string `json:"phone"`
		Name           string `json:"name"`
		Stage          string `json:"stage"`
		Source         string `json:"source"`
		Classification string `json:"classification"`
		ValueCents     int64  `json:"value_cents"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if wa.NormalizePhone(payload.Phone) == "" {
		return fail(c, http.StatusUnprocessableEntity, "INVALID_ADDRESS", "phone is required", nil)
	}
	conv, err := s.store.CreateManualConversation(c.Request().Context(), accountID(c), wa.NormalizePhone(payload.Phone), payload.Name, store.ConversationAttrs{
		Stage:          payload.Stage,
		Source:         payload.Source,
		Classification: payload.Classification,
		ValueCents:     payload.ValueCents,
	})
	if err != nil {
		return fail(c, http.StatusInternalServerError, "CREATE_FAILED", "Unable to create conversation", err.Error())
	}
	return ok(c, conv)
}

func (s *Server) postStage(c echo.Context) error {
	var payload struct {
		Stage string `json:"stage"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	switch payload.Stage {
	case domain.StageIncoming, domain.StageQualification, domain.StageProposal, domain.StageClosing:
	default:
		return fail(c, http.StatusBadRequest, "INVALID_STAGE", "Unknown pipeline stage", payload.Stage)
	}
	return s.applyConversationUpdate(c, func(acc string, id int64) error {
		return s.store.SetConversationStage(c.Request().Context(), acc, id, payload.Stage)
	})
}

func (s *Server) postClassification(c echo.Context) error {
	var payload struct {
		Classification string `json:"classification"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	return s.applyConversationUpdate(c, func(acc string, id int64) error {
		return s.store.SetConversationClassification(c.Request().Context(), acc, id, payload.Classification)
	})
}

func (s *Server) postValue(c echo.Context) error {
	var payload struct {
		ValueCents int64 `json:"value_cents"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	return s.applyConversationUpdate(c, func(acc string, id int64) error {
		return s.store.SetConversationValue(c.Request().Context(), acc, id, payload.ValueCents)
	})
}

func (s *Server) getMessageMedia(c echo.Context) error {
	mime, data, err := s.wa.MessageMedia(c.Request().Context(), accountID(c), cast.ToInt64(c.Param("id")), cast.ToInt64(c.Param("mid")))
	if errors.Is(err, wa.ErrNotFound) {
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Message not found", nil)
	}
	if errors.Is(err, wa.ErrMediaUnavailable) {
		return fail(c, http.StatusGone, "MEDIA_UNAVAILABLE", "Message carries no retrievable media", nil)
	}
	if err != nil {
		return fail(c, http.StatusInternalServerError, "QUERY_FAILED", "Unable to load media", err.Error())
	}
	return c.Blob(http.StatusOK, mime, data)
}

func (s *Server) applyConversationUpdate(c echo.Context, update func(acc string, id int64) error) error {
	convID := cast.ToInt64(c.Param("id"))
	acc := accountID(c)
	err := update(acc, convID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Conversation not found", nil)
	}
	if err != nil {
		return fail(c, http.StatusInternalServerError, "UPDATE_FAILED", "Unable to update conversation", err.Error())
	}
	conv, err := s.store.GetConversation(c.Request().Context(), acc, convID)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "QUERY_FAILED", "Unable to reload conversation", err.Error())
	}
	return ok(c, conv)
}
