package services

import (
	"context"
	"fmt"

	"github.com/diogomanala/chatbot-saas-sub003/internal/models"
)

type StatsService struct {
	messages MessageStore
}

func NewStatsService(messages MessageStore) *StatsService {
	return &StatsService{messages: messages}
}

// GetStats aggregates billing counters for one org.
func (s *StatsService) GetStats(ctx context.Context, orgID string) (*models.BillingStats, error) {
	if orgID == "" {
		return nil, ErrInvalidOrgID
	}

	stats, err := s.messages.GetStats(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("%w: billing stats for %s: %w", ErrTransient, orgID, err)
	}
	stats.OrgID = orgID
	return stats, nil
}
