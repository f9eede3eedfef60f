package store

import (
	"context"
	"errors"
	"time"

	"github.com/MatheusHenriquePires/S-crm/internal/domain"
	"github.com/MatheusHenriquePires/S-crm/pkg/ids"
	"gorm.io/gorm"
)

// SaveCloudIntegration stores (or replaces) the Cloud API credentials for an
// account with status pending. Activation happens on the first routed
// webhook delivery.
func (s *Store) SaveCloudIntegration(ctx context.Context, accountID, phoneNumberID, verifyToken, accessToken, webhookURL string) (*domain.ChannelIntegration, error) {
	var integ domain.ChannelIntegration
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		First(&integ).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		integ = domain.ChannelIntegration{
			ID:            ids.Next(),
			AccountID:     accountID,
			Provider:      domain.IntegrationProviderCloud,
			Status:        domain.IntegrationStatusPending,
			PhoneNumberID: phoneNumberID,
			VerifyToken:   verifyToken,
			AccessToken:   accessToken,
			WebhookURL:    webhookURL,
		}
		if err := s.db.WithContext(ctx).Create(&integ).Error; err != nil {
			return nil, err
		}
		return &integ, nil
	}
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{
		"provider":        domain.IntegrationProviderCloud,
		"status":          domain.IntegrationStatusPending,
		"phone_number_id": phoneNumberID,
		"verify_token":    verifyToken,
		"access_token":    accessToken,
		"webhook_url":     webhookURL,
		"updated_at":      time.Now(),
	}
	if err := s.db.WithContext(ctx).Model(&domain.ChannelIntegration{}).
		Where("id = ?", integ.ID).Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.GetIntegration(ctx, accountID)
}

func (s *Store) GetIntegration(ctx context.Context, accountID string) (*domain.ChannelIntegration, error) {
	var integ domain.ChannelIntegration
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		First(&integ).Error
	if err != nil {
		return nil, err
	}
	return &integ, nil
}

func (s *Store) FindIntegrationByPhoneNumberID(ctx context.Context, phoneNumberID string) (*domain.ChannelIntegration, error) {
	var integ domain.ChannelIntegration
	err := s.db.WithContext(ctx).
		Where("phone_number_id = ?", phoneNumberID).
		First(&integ).Error
	if err != nil {
		return nil, err
	}
	return &integ, nil
}

func (s *Store) FindIntegrationByVerifyToken(ctx context.Context, token string) (*domain.ChannelIntegration, error) {
	var integ domain.ChannelIntegration
	err := s.db.WithContext(ctx).
		Where("verify_token = ?", token).
		First(&integ).Error
	if err != nil {
		return nil, err
	}
	return &integ, nil
}

func (s *Store) ActivateIntegration(ctx context.Context, accountID string) error {
	return s.db.WithContext(ctx).Model(&domain.ChannelIntegration{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"status":     domain.IntegrationStatusConnected,
			"updated_at": time.Now(),
		}).Error
}
