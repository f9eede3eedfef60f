package wa

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MatheusHenriquePires/S-crm/internal/domain"
	"github.com/MatheusHenriquePires/S-crm/internal/driver"
)

// SendOutbound delivers a text through the account's live session and
// persists it as an outbound message of the conversation. replyTo, when
// set, quotes the referenced provider message; the quote is dropped and
// the send retried plain if the provider rejects it.
func (s *Service) SendOutbound(ctx context.Context, accountID string, conversationID int64, body, replyTo string) (IngestResult, error) {
	conv, err := s.store.GetConversation(ctx, accountID, conversationID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return IngestResult{}, errors.Wrapf(ErrNotFound, "conversation %d", conversationID)
	}
	if err != nil {
		return IngestResult{}, err
	}
	contact, err := s.store.GetContact(ctx, conv.ContactID)
	if err != nil {
		return IngestResult{}, errors.Wrap(err, "load contact")
	}
	phone := NormalizePhone(contact.PhoneE164)
	if phone == "" {
		return IngestResult{}, errors.Wrapf(ErrInvalidAddress, "contact %d", contact.ID)
	}

	h := s.liveHandle(accountID)
	if h == nil {
		// one rehydrate attempt before giving up
		s.EnsureLiveSocket(accountID)
		h = s.liveHandle(accountID)
		if h == nil {
			return IngestResult{}, errors.Wrapf(ErrNotConnected, "account %s", accountID)
		}
	}

	addr := s.resolveDestination(ctx, conversationID, phone)
	res, err := h.SendText(ctx, addr, body, driver.SendOptions{QuotedMessageID: replyTo})
	if err != nil && replyTo != "" {
		zap.L().Warn("wa: quoted send failed, retrying without quote",
			zap.String("account", accountID), zap.Int64("conversation", conversationID), zap.Error(err))
		res, err = h.SendText(ctx, addr, body, driver.SendOptions{})
	}
	if err != nil {
		return IngestResult{}, errors.Wrap(err, "send text")
	}

	ack := res.Ack
	if ack <= 0 {
		ack = 1
	}
	raw := driver.RawMessage{
		"to":        addr,
		"body":      body,
		"fromMe":    true,
		"timestamp": time.Now().Unix(),
		"ack":       ack,
	}
	if res.ID != "" {
		raw["id"] = res.ID
	}
	if replyTo != "" {
		raw["quotedMsgId"] = replyTo
	}
	return s.Ingest(ctx, accountID, raw, domain.DirectionOutbound)
}

func (s *Service) liveHandle(accountID string) driver.Handle {
	st := s.reg.account(accountID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.handle
}

// resolveDestination prefers the raw address the conversation last used,
// as long as it still resolves to the canonical contact number. Anything
// stale or divergent falls back to the canonical address.
func (s *Service) resolveDestination(ctx context.Context, conversationID int64, phone string) string {
	fallback := BuildAddress(phone)
	last, err := s.store.LatestMessage(ctx, conversationID)
	if err != nil {
		return fallback
	}
	var payload map[string]interface{}
	if err := json.UnmarshalFromString(last.RawPayload, &payload); err != nil {
		return fallback
	}
	addr := firstNonEmpty(
		lookupString(payload, "key", "remoteJid"),
		lookupString(payload, "to"),
		lookupString(payload, "from"),
	)
	if addr != "" && NormalizePhone(addr) == phone {
		return BuildAddress(addr)
	}
	return fallback
}
