package wa

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/MatheusHenriquePires/S-crm/internal/domain"
	"github.com/MatheusHenriquePires/S-crm/internal/driver"
	"github.com/MatheusHenriquePires/S-crm/internal/store"
	"github.com/MatheusHenriquePires/S-crm/internal/stream"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// IngestResult reports where a raw message ended up.
type IngestResult struct {
	ConversationID int64
	MessageID      int64
	Duplicated     bool
	Skipped        bool
}

// Ingest normalizes one raw provider message and persists it exactly
// once. Group and status traffic is skipped. direction may be empty, in
// which case it is derived from the payload's fromMe flag.
func (s *Service) Ingest(ctx context.Context, accountID string, raw driver.RawMessage, direction string) (IngestResult, error) {
	if cast.ToBool(raw["isGroupMsg"]) || cast.ToBool(raw["isStatus"]) {
		return IngestResult{Skipped: true}, nil
	}

	providerID := ExtractProviderMessageID(raw)
	if providerID != "" {
		if v, ok := s.recentIDs.Get(dedupKey(accountID, providerID)); ok {
			convID, _ := v.(int64)
			return IngestResult{ConversationID: convID, Duplicated: true}, nil
		}
	}

	if direction == "" {
		if cast.ToBool(raw["fromMe"]) {
			direction = domain.DirectionOutbound
		} else {
			direction = domain.DirectionInbound
		}
	}

	var target string
	if direction == domain.DirectionOutbound {
		target = firstNonEmpty(cast.ToString(raw["to"]), cast.ToString(raw["chatId"]), lookupString(raw, "key", "remoteJid"))
	} else {
		target = firstNonEmpty(cast.ToString(raw["from"]), cast.ToString(raw["chatId"]), lookupString(raw, "key", "remoteJid"))
	}
	phone := NormalizePhone(target)
	if phone == "" {
		return IngestResult{}, errors.Wrapf(ErrInvalidAddress, "raw address %q", target)
	}

	var name string
	if direction == domain.DirectionInbound {
		name = extractContactName(raw)
	}
	contact, err := s.store.UpsertContact(ctx, accountID, phone, name, "")
	if err != nil {
		return IngestResult{}, err
	}

	ts := extractTimestamp(raw)
	conv, err := s.store.UpsertConversation(ctx, accountID, contact.ID, ts, store.ConversationAttrs{})
	if err != nil {
		return IngestResult{}, err
	}

	status := domain.StatusDelivered
	if direction == domain.DirectionOutbound {
		ack := 1
		if v, ok := raw["ack"]; ok {
			ack = cast.ToInt(v)
		}
		status = MapAckToStatus(ack)
	}

	rawJSON, err := json.MarshalToString(map[string]interface{}(raw))
	if err != nil {
		rawJSON = "{}"
	}
	msg := &domain.Message{
		ConversationID:    conv.ID,
		Direction:         direction,
		Body:              normalizeBody(raw),
		RawPayload:        rawJSON,
		ReplyToProviderID: extractReplyTo(raw),
		Status:            status,
		MessageTimestamp:  ts,
		CreatedAt:         time.Now(),
	}
	if providerID != "" {
		msg.ProviderMessageID = &providerID
	}

	dup, err := s.store.InsertMessage(ctx, accountID, msg)
	if err != nil {
		return IngestResult{}, err
	}
	if providerID != "" {
		s.recentIDs.Set(dedupKey(accountID, providerID), conv.ID, cache.DefaultExpiration)
	}
	if dup {
		return IngestResult{ConversationID: conv.ID, Duplicated: true}, nil
	}

	s.applyPendingAck(ctx, accountID, providerID)
	s.publish(stream.Event{
		Type:           stream.EventMessage,
		AccountID:      accountID,
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		Direction:      direction,
	})
	if direction == domain.DirectionInbound && contact.PhotoURL == "" {
		go s.refreshContactPhoto(accountID, contact.ID, target)
	}
	return IngestResult{ConversationID: conv.ID, MessageID: msg.ID}, nil
}

// refreshContactPhoto fills a missing profile photo when the live driver
// supports fetching one. Best effort; failures are only logged.
func (s *Service) refreshContactPhoto(accountID string, contactID int64, address string) {
	st := s.reg.account(accountID)
	st.mu.Lock()
	h := st.handle
	st.mu.Unlock()
	if h == nil {
		return
	}
	pf, ok := driver.PhotoFetcher(h)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	url, err := pf.ProfilePhoto(ctx, address)
	if err != nil || url == "" {
		return
	}
	if err := s.store.SetContactPhotoIfEmpty(ctx, contactID, url); err != nil {
		zap.L().Debug("wa: store contact photo", zap.String("account", accountID), zap.Error(err))
	}
}
