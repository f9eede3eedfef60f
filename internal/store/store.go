// Package store is the durable repository for contacts, conversations and
// messages. It owns the consistency rules the ingestion engine relies on:
// fill-if-null upserts, the monotonic last-message timestamp, and the
// two-tier message dedup check executed inside one transaction per
// conversation.
package store

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/MatheusHenriquePires/S-crm/internal/domain"
	"github.com/MatheusHenriquePires/S-crm/pkg/ids"
	"gorm.io/gorm"
)

const convLockShards = 64

type Store struct {
	db          *gorm.DB
	dedupWindow time.Duration

	// per-conversation locks serialize the window-dedup check-then-insert;
	// the unique index on provider_message_id is the cross-process backstop.
	convLocks [convLockShards]sync.Mutex
}

func NewStore(db *gorm.DB, dedupWindow time.Duration) *Store {
	if dedupWindow <= 0 {
		dedupWindow = 5 * time.Second
	}
	return &Store{db: db, dedupWindow: dedupWindow}
}

func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) lockConversation(id int64) func() {
	h := fnv.New32a()
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(id >> (8 * i))
	}
	_, _ = h.Write(buf[:])
	m := &s.convLocks[h.Sum32()%convLockShards]
	m.Lock()
	return m.Unlock
}

// UpsertContact creates the contact on first sight of a phone number and
// fills name/photo only when still empty, so operator-entered values are
// never downgraded.
func (s *Store) UpsertContact(ctx context.Context, accountID, phone, name, photoURL string) (*domain.Contact, error) {
	var contact domain.Contact
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND phone_e164 = ?", accountID, phone).
		First(&contact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		contact = domain.Contact{
			ID:        ids.Next(),
			AccountID: accountID,
			PhoneE164: phone,
			Name:      name,
			PhotoURL:  photoURL,
		}
		if cerr := s.db.WithContext(ctx).Create(&contact).Error; cerr != nil {
			if errors.Is(cerr, gorm.ErrDuplicatedKey) {
				// lost a create race, reload the winner
				err = s.db.WithContext(ctx).
					Where("account_id = ? AND phone_e164 = ?", accountID, phone).
					First(&contact).Error
				if err != nil {
					return nil, err
				}
			} else {
				return nil, cerr
			}
		} else {
			return &contact, nil
		}
	} else if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if contact.Name == "" && name != "" {
		updates["name"] = name
		contact.Name = name
	}
	if contact.PhotoURL == "" && photoURL != "" {
		updates["photo_url"] = photoURL
		contact.PhotoURL = photoURL
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&domain.Contact{}).
			Where("id = ?", contact.ID).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return &contact, nil
}

// SetContactPhotoIfEmpty stores a profile photo URL only when the
// contact has none yet.
func (s *Store) SetContactPhotoIfEmpty(ctx context.Context, contactID int64, photoURL string) error {
	return s.db.WithContext(ctx).Model(&domain.Contact{}).
		Where("id = ? AND (photo_url IS NULL OR photo_url = '')", contactID).
		Update("photo_url", photoURL).Error
}

// ConversationAttrs are optional fields applied with fill-if-null semantics.
type ConversationAttrs struct {
	Stage          string
	Source         string
	Classification string
	ValueCents     int64
}

// UpsertConversation finds or creates the conversation for (account,
// contact), advancing LastMessageAt only when ts is later than the stored
// value and filling stage/source/value only when still unset.
func (s *Store) UpsertConversation(ctx context.Context, accountID string, contactID int64, ts time.Time, attrs ConversationAttrs) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND contact_id = ?", accountID, contactID).
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		stage := attrs.Stage
		if stage == "" {
			stage = domain.StageIncoming
		}
		conv = domain.Conversation{
			ID:             ids.Next(),
			AccountID:      accountID,
			ContactID:      contactID,
			Stage:          stage,
			Source:         attrs.Source,
			Classification: attrs.Classification,
			ValueCents:     attrs.ValueCents,
			IsOpen:         true,
			LastMessageAt:  ts,
		}
		if cerr := s.db.WithContext(ctx).Create(&conv).Error; cerr != nil {
			if errors.Is(cerr, gorm.ErrDuplicatedKey) {
				err = s.db.WithContext(ctx).
					Where("account_id = ? AND contact_id = ?", accountID, contactID).
					First(&conv).Error
				if err != nil {
					return nil, err
				}
			} else {
				return nil, cerr
			}
		} else {
			return &conv, nil
		}
	} else if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if ts.After(conv.LastMessageAt) {
		updates["last_message_at"] = ts
		conv.LastMessageAt = ts
	}
	if conv.Stage == "" {
		stage := attrs.Stage
		if stage == "" {
			stage = domain.StageIncoming
		}
		updates["stage"] = stage
		conv.Stage = stage
	}
	if conv.Source == "" && attrs.Source != "" {
		updates["source"] = attrs.Source
		conv.Source = attrs.Source
	}
	if conv.Classification == "" && attrs.Classification != "" {
		updates["classification"] = attrs.Classification
		conv.Classification = attrs.Classification
	}
	if conv.ValueCents == 0 && attrs.ValueCents != 0 {
		updates["value_cents"] = attrs.ValueCents
		conv.ValueCents = attrs.ValueCents
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&domain.Conversation{}).
			Where("id = ?", conv.ID).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return &conv, nil
}

// InsertMessage persists msg unless it is a duplicate. Dedup order: provider
// id within the account, then the +/-window (direction, body, timestamp)
// fingerprint inside the conversation. Returns duplicated=true without error
// when the message was already stored.
func (s *Store) InsertMessage(ctx context.Context, accountID string, msg *domain.Message) (bool, error) {
	unlock := s.lockConversation(msg.ConversationID)
	defer unlock()

	duplicated := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if msg.ProviderMessageID != nil && *msg.ProviderMessageID != "" {
			var n int64
			err := tx.Model(&domain.Message{}).
				Where("provider_message_id = ?", *msg.ProviderMessageID).
				Where("conversation_id IN (?)",
					tx.Model(&domain.Conversation{}).Select("id").Where("account_id = ?", accountID)).
				Count(&n).Error
			if err != nil {
				return err
			}
			if n > 0 {
				duplicated = true
				return nil
			}
		}

		var n int64
		err := tx.Model(&domain.Message{}).
			Where("conversation_id = ? AND direction = ? AND body = ?",
				msg.ConversationID, msg.Direction, msg.Body).
			Where("message_timestamp > ? AND message_timestamp < ?",
				msg.MessageTimestamp.Add(-s.dedupWindow),
				msg.MessageTimestamp.Add(s.dedupWindow)).
			Count(&n).Error
		if err != nil {
			return err
		}
		if n > 0 {
			duplicated = true
			return nil
		}

		if msg.ID == 0 {
			msg.ID = ids.Next()
		}
		return tx.Create(msg).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// unique index backstop fired, treat as the duplicate it is
		return true, nil
	}
	return duplicated, err
}

// UpdateMessageStatus writes the mapped delivery status for a provider id.
// Returns the number of rows touched; zero means the id is unknown for this
// account.
func (s *Store) UpdateMessageStatus(ctx context.Context, accountID, providerID, status string) (int64, error) {
	if providerID == "" {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Model(&domain.Message{}).
		Where("provider_message_id = ?", providerID).
		Where("conversation_id IN (?)",
			s.db.Model(&domain.Conversation{}).Select("id").Where("account_id = ?", accountID)).
		Update("status", status)
	return res.RowsAffected, res.Error
}

func (s *Store) GetConversation(ctx context.Context, accountID string, conversationID int64) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := s.db.WithContext(ctx).
		Where("id = ? AND account_id = ?", conversationID, accountID).
		First(&conv).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *Store) GetContact(ctx context.Context, contactID int64) (*domain.Contact, error) {
	var contact domain.Contact
	if err := s.db.WithContext(ctx).First(&contact, contactID).Error; err != nil {
		return nil, err
	}
	return &contact, nil
}

// LatestMessage returns the most recent message in a conversation, or
// gorm.ErrRecordNotFound for an empty conversation.
func (s *Store) LatestMessage(ctx context.Context, conversationID int64) (*domain.Message, error) {
	var msg domain.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("message_timestamp DESC").
		First(&msg).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *Store) GetMessage(ctx context.Context, conversationID, messageID int64) (*domain.Message, error) {
	var msg domain.Message
	err := s.db.WithContext(ctx).
		Where("id = ? AND conversation_id = ?", messageID, conversationID).
		First(&msg).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// LatestMessageTimeForPhone reports the newest stored message timestamp for
// the conversation belonging to a normalized phone, used by the backfill
// sweep to skip already-imported history.
func (s *Store) LatestMessageTimeForPhone(ctx context.Context, accountID, phone string) (time.Time, bool, error) {
	var contact domain.Contact
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND phone_e164 = ?", accountID, phone).
		First(&contact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	var conv domain.Conversation
	err = s.db.WithContext(ctx).
		Where("account_id = ? AND contact_id = ?", accountID, contact.ID).
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	msg, err := s.LatestMessage(ctx, conv.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return msg.MessageTimestamp, true, nil
}

func (s *Store) ListConversationsSince(ctx context.Context, accountID string, since *time.Time) ([]domain.Conversation, error) {
	q := s.db.WithContext(ctx).Where("account_id = ?", accountID)
	if since != nil {
		q = q.Where("last_message_at > ?", *since)
	}
	var convs []domain.Conversation
	err := q.Order("last_message_at DESC").Find(&convs).Error
	return convs, err
}

func (s *Store) ListMessagesSince(ctx context.Context, conversationID int64, since *time.Time) ([]domain.Message, error) {
	q := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID)
	if since != nil {
		q = q.Where("message_timestamp > ?", *since)
	}
	var msgs []domain.Message
	err := q.Order("message_timestamp ASC").Find(&msgs).Error
	return msgs, err
}
