package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/plt-repo/order-inventory-platform/internal/domain"
	"github.com/redis/go-redis/v9"
)

// cachedEngine serves item lookups from redis and drops the cached entry
// for every sku a mutation touches. The ledger in postgres stays the only
// authority; the cache is read-through for stock displays.
type cachedEngine struct {
	next        Engine
	redisClient *redis.Client
	cacheTTL    time.Duration
}

func NewCachedEngine(next Engine, redisClient *redis.Client, cacheTTL time.Duration) Engine {
	return &cachedEngine{
		next:        next,
		redisClient: redisClient,
		cacheTTL:    cacheTTL,
	}
}

func itemKey(sku string) string {
	return fmt.Sprintf("item:%s", sku)
}

func (s *cachedEngine) GetItem(ctx context.Context, sku string) (*domain.InventoryItem, error) {
	val, err := s.redisClient.Get(ctx, itemKey(sku)).Result()
	if err == nil {
		var item domain.InventoryItem
		if err := json.Unmarshal([]byte(val), &item); err == nil {
			return &item, nil
		}
	}

	item, err := s.next.GetItem(ctx, sku)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(item); err == nil {
		s.redisClient.Set(ctx, itemKey(sku), data, s.cacheTTL)
	}

	return item, nil
}

func (s *cachedEngine) AddStock(ctx context.Context, sku string, quantity int64) (*domain.InventoryItem, error) {
	item, err := s.next.AddStock(ctx, sku, quantity)
	if err != nil {
		return nil, err
	}

	s.redisClient.Del(ctx, itemKey(sku))
	return item, nil
}

func (s *cachedEngine) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResult, error) {
	result, err := s.next.PlaceOrder(ctx, req)

	if result != nil && !result.Duplicate {
		s.invalidateLines(ctx, req.Lines)
	}

	return result, err
}

func (s *cachedEngine) AdvanceOrder(
	ctx context.Context,
	orderID string,
	event domain.OrderEvent,
	expectedStatus domain.OrderStatus,
) (*OrderStatusResult, error) {
	result, err := s.next.AdvanceOrder(ctx, orderID, event, expectedStatus)
	if err != nil {
		return nil, err
	}

	// The transition may have moved stock for any of the order's skus.
	s.invalidateLines(ctx, result.Lines)

	return result, nil
}

func (s *cachedEngine) invalidateLines(ctx context.Context, lines []domain.OrderLine) {
	keys := make([]string, 0, len(lines))
	for _, line := range lines {
		keys = append(keys, itemKey(line.SKU))
	}

	if len(keys) > 0 {
		s.redisClient.Del(ctx, keys...)
	}
}
