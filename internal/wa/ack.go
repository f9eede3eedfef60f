package wa

import (
	"context"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/MatheusHenriquePires/S-crm/internal/domain"
)

// MapAckToStatus converts a provider ack level into a message status.
// Unknown negative or zero levels stay pending.
func MapAckToStatus(ack int) string {
	switch {
	case ack >= 4:
		return domain.StatusPlayed
	case ack >= 3:
		return domain.StatusRead
	case ack >= 2:
		return domain.StatusDelivered
	case ack >= 1:
		return domain.StatusSent
	default:
		return domain.StatusPending
	}
}

// RecordAck updates the status of the message carrying providerID. Acks
// racing ahead of the insert are buffered briefly and applied right after
// the row lands; anything older than the buffer window is dropped.
func (s *Service) RecordAck(ctx context.Context, accountID, providerID string, ack int) error {
	if providerID == "" {
		return nil
	}
	rows, err := s.store.UpdateMessageStatus(ctx, accountID, providerID, MapAckToStatus(ack))
	if err != nil {
		return err
	}
	if rows == 0 {
		s.pendingAcks.Set(dedupKey(accountID, providerID), ack, pendingAckTTL)
		zap.L().Debug("wa: ack arrived before message, buffered",
			zap.String("account", accountID), zap.String("provider_id", providerID), zap.Int("ack", ack))
	}
	return nil
}

func (s *Service) applyPendingAck(ctx context.Context, accountID, providerID string) {
	if providerID == "" {
		return
	}
	key := dedupKey(accountID, providerID)
	v, ok := s.pendingAcks.Get(key)
	if !ok {
		return
	}
	s.pendingAcks.Delete(key)
	if _, err := s.store.UpdateMessageStatus(ctx, accountID, providerID, MapAckToStatus(cast.ToInt(v))); err != nil {
		zap.L().Warn("wa: apply buffered ack", zap.String("account", accountID), zap.Error(err))
	}
}
