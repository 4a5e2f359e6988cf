package redisrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diogomanala/chatbot-saas-sub003/internal/repositories"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

const (
	expiration = 30 * time.Second
)

// ErrBalanceNotFound is returned on a cache miss.
var ErrBalanceNotFound = repositories.ErrCacheMiss

type WalletRepository struct {
	client *redis.Client
	prefix string
}

func NewWalletRepository(client *redis.Client) *WalletRepository {
	return &WalletRepository{
		client: client,
		prefix: "wallet:",
	}
}

func (r *WalletRepository) SetBalance(ctx context.Context, orgID string, balance decimal.Decimal) error {
	key := r.getBalanceKey(orgID)

	err := r.client.Set(ctx, key, balance.String(), expiration).Err()
	if err != nil {
		return fmt.Errorf("failed to set balance in redis: %w", err)
	}

	return nil
}

func (r *WalletRepository) GetBalance(ctx context.Context, orgID string) (decimal.Decimal, error) {
	key := r.getBalanceKey(orgID)

	balanceStr, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return decimal.Zero, ErrBalanceNotFound
		}
		return decimal.Zero, fmt.Errorf("failed to get balance from redis: %w", err)
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse balance from redis: %w", err)
	}

	return balance, nil
}

func (r *WalletRepository) DeleteBalance(ctx context.Context, orgID string) error {
	key := r.getBalanceKey(orgID)

	err := r.client.Del(ctx, key).Err()
	if err != nil {
		return fmt.Errorf("failed to delete balance from redis: %w", err)
	}

	return nil
}

func (r *WalletRepository) getBalanceKey(orgID string) string {
	return r.prefix + orgID + ":balance"
}
