package wa

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MatheusHenriquePires/S-crm/internal/domain"
	"github.com/MatheusHenriquePires/S-crm/internal/driver"
)

// ProcessIncomingMessage is the worker entry point for inbound traffic
// handed over from a transport (webhook or queue).
func (s *Service) ProcessIncomingMessage(accountID string, raw driver.RawMessage) error {
	_, err := s.Ingest(context.Background(), accountID, raw, domain.DirectionInbound)
	return err
}

// ExecuteSendOutboundMessage is the worker entry point for queued sends.
func (s *Service) ExecuteSendOutboundMessage(accountID string, conversationID int64, body, replyTo string) error {
	_, err := s.SendOutbound(context.Background(), accountID, conversationID, body, replyTo)
	return err
}

// HandleCloudWebhook routes one Cloud API delivery to the owning account
// and schedules its ingestion on the worker pool. Deliveries that are not
// message notifications, or that reference an unknown phone number id,
// are acknowledged without effect.
func (s *Service) HandleCloudWebhook(ctx context.Context, payload map[string]interface{}) error {
	phoneNumberID, raw, contactName := DecodeCloudWebhook(payload)
	if phoneNumberID == "" || raw == nil {
		return nil
	}
	integ, err := s.store.FindIntegrationByPhoneNumberID(ctx, phoneNumberID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		zap.L().Debug("wa: webhook for unknown phone number id", zap.String("phone_number_id", phoneNumberID))
		return nil
	}
	if err != nil {
		return err
	}
	if contactName != "" {
		raw["notifyName"] = contactName
	}

	accountID := integ.AccountID
	if err := s.pool.Submit(func() {
		if err := s.ProcessIncomingMessage(accountID, raw); err != nil {
			zap.L().Warn("wa: process webhook message", zap.String("account", accountID), zap.Error(err))
		}
	}); err != nil {
		return errors.Wrap(err, "submit webhook message")
	}

	if integ.Status != domain.IntegrationStatusConnected {
		return s.store.ActivateIntegration(ctx, accountID)
	}
	return nil
}

// DecodeCloudWebhook digs the first message notification out of the
// Cloud API envelope: entry[0].changes[0].value. The message map is
// flattened into the common raw shape the ingest pipeline expects.
func DecodeCloudWebhook(payload map[string]interface{}) (phoneNumberID string, raw driver.RawMessage, contactName string) {
	value := firstListMap(firstListMap(payload, "entry"), "changes")
	if value == nil {
		return "", nil, ""
	}
	if inner, err := cast.ToStringMapE(value["value"]); err == nil {
		value = inner
	} else {
		return "", nil, ""
	}

	phoneNumberID = lookupString(value, "metadata", "phone_number_id")

	msgs, err := cast.ToSliceE(value["messages"])
	if err != nil || len(msgs) == 0 {
		return phoneNumberID, nil, ""
	}
	msg, err := cast.ToStringMapE(msgs[0])
	if err != nil {
		return phoneNumberID, nil, ""
	}

	raw = driver.RawMessage{}
	for k, v := range msg {
		raw[k] = v
	}
	if body := lookupString(msg, "text", "body"); body != "" {
		raw["body"] = body
	}

	if contacts, err := cast.ToSliceE(value["contacts"]); err == nil && len(contacts) > 0 {
		if c, err := cast.ToStringMapE(contacts[0]); err == nil {
			contactName = lookupString(c, "profile", "name")
		}
	}
	return phoneNumberID, raw, contactName
}

// firstListMap returns m[key][0] as a map, or nil when the shape differs.
func firstListMap(m map[string]interface{}, key string) map[string]interface{} {
	if m == nil {
		return nil
	}
	list, err := cast.ToSliceE(m[key])
	if err != nil || len(list) == 0 {
		return nil
	}
	first, err := cast.ToStringMapE(list[0])
	if err != nil {
		return nil
	}
	return first
}
