package store

import (
	"context"
	"time"

	"github.com/MatheusHenriquePires/S-crm/internal/domain"
)

// Operator-driven conversation updates. Unlike the ingestion path these set
// fields unconditionally: an explicit operator action always wins.

func (s *Store) SetConversationStage(ctx context.Context, accountID string, conversationID int64, stage string) error {
	if _, err := s.GetConversation(ctx, accountID, conversationID); err != nil {
		return err
	}
	if stage == "" {
		stage = domain.StageIncoming
	}
	return s.db.WithContext(ctx).Model(&domain.Conversation{}).
		Where("id = ? AND account_id = ?", conversationID, accountID).
		Updates(map[string]interface{}{"stage": stage, "updated_at": time.Now()}).Error
}

func (s *Store) SetConversationClassification(ctx context.Context, accountID string, conversationID int64, classification string) error {
	if _, err := s.GetConversation(ctx, accountID, conversationID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&domain.Conversation{}).
		Where("id = ? AND account_id = ?", conversationID, accountID).
		Updates(map[string]interface{}{"classification": classification, "updated_at": time.Now()}).Error
}

func (s *Store) SetConversationValue(ctx context.Context, accountID string, conversationID int64, valueCents int64) error {
	if _, err := s.GetConversation(ctx, accountID, conversationID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&domain.Conversation{}).
		Where("id = ? AND account_id = ?", conversationID, accountID).
		Updates(map[string]interface{}{"value_cents": valueCents, "updated_at": time.Now()}).Error
}

// CreateManualConversation backs the "new lead" operator flow: a
// conversation created before any message exists.
func (s *Store) CreateManualConversation(ctx context.Context, accountID, phone, name string, attrs ConversationAttrs) (*domain.Conversation, error) {
	contact, err := s.UpsertContact(ctx, accountID, phone, name, "")
	if err != nil {
		return nil, err
	}
	return s.UpsertConversation(ctx, accountID, contact.ID, time.Now(), attrs)
}
