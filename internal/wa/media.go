package wa

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// MessageMedia extracts inline media from a stored message's raw payload.
// Only payloads that embedded the media itself (data URL or bare base64
// JPEG) are decodable; anything else is reported as unavailable so the
// caller can fall back to a placeholder.
func (s *Service) MessageMedia(ctx context.Context, accountID string, conversationID, messageID int64) (string, []byte, error) {
	if _, err := s.store.GetConversation(ctx, accountID, conversationID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, errors.Wrapf(ErrNotFound, "conversation %d", conversationID)
		}
		return "", nil, err
	}
	msg, err := s.store.GetMessage(ctx, conversationID, messageID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil, errors.Wrapf(ErrNotFound, "message %d", messageID)
	}
	if err != nil {
		return "", nil, err
	}

	var payload map[string]interface{}
	if err := json.UnmarshalFromString(msg.RawPayload, &payload); err != nil {
		return "", nil, errors.Wrap(ErrMediaUnavailable, "unreadable payload")
	}
	body := lookupString(payload, "body")
	if body == "" {
		body = lookupString(payload, "caption")
	}

	switch {
	case strings.HasPrefix(body, "data:"):
		mime, data, ok := decodeDataURL(body)
		if !ok {
			return "", nil, errors.Wrap(ErrMediaUnavailable, "malformed data url")
		}
		return mime, data, nil
	case looksLikeBase64Image(body):
		data, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return "", nil, errors.Wrap(ErrMediaUnavailable, "undecodable base64 body")
		}
		return "image/jpeg", data, nil
	default:
		return "", nil, errors.Wrapf(ErrMediaUnavailable, "message %d carries no inline media", messageID)
	}
}

func decodeDataURL(v string) (mime string, data []byte, ok bool) {
	rest := strings.TrimPrefix(v, "data:")
	semi := strings.IndexByte(rest, ';')
	comma := strings.IndexByte(rest, ',')
	if semi < 0 || comma < 0 || comma < semi {
		return "", nil, false
	}
	if rest[semi+1:comma] != "base64" {
		return "", nil, false
	}
	decoded, err := base64.StdEncoding.DecodeString(rest[comma+1:])
	if err != nil {
		return "", nil, false
	}
	return rest[:semi], decoded, true
}
