package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sundai-club/shop/internal/domain"
	apperrors "github.com/sundai-club/shop/pkg/errors"
)

const keyPrefix = "cart:"

// removePositions tombstones every position in ARGV[3..] and then deletes
// the tombstones, so the positions all refer to the list as it was before
// the call. Returns -1 without touching the list when a position is out of
// range.
var removePositions = redis.NewScript(`
local n = redis.call('LLEN', KEYS[1])
for i = 3, #ARGV do
	local p = tonumber(ARGV[i])
	if p < 0 or p >= n then
		return -1
	end
end
for i = 3, #ARGV do
	redis.call('LSET', KEYS[1], tonumber(ARGV[i]), ARGV[1])
end
local removed = redis.call('LREM', KEYS[1], 0, ARGV[1])
if redis.call('EXISTS', KEYS[1]) == 1 then
	redis.call('EXPIRE', KEYS[1], tonumber(ARGV[2]))
end
return removed
`)

// CartRepository implements repository.CartRepository with one Redis list
// per session.
type CartRepository struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewCartRepository creates a Redis-backed cart repository. Every write
// refreshes the session's TTL.
func NewCartRepository(client redis.UniversalClient, ttl time.Duration) *CartRepository {
	return &CartRepository{client: client, ttl: ttl}
}

func cartKey(session string) string {
	return keyPrefix + session
}

// Add appends a line item.
func (r *CartRepository) Add(ctx context.Context, session string, item domain.LineItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal line item: %w", err)
	}

	key := cartKey(session)
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, data)
		p.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis rpush cart line: %w", err)
	}
	return nil
}

// Remove drops the line at position.
func (r *CartRepository) Remove(ctx context.Context, session string, position int) error {
	return r.RemovePositions(ctx, session, []int{position})
}

// RemovePositions drops all listed positions atomically.
func (r *CartRepository) RemovePositions(ctx context.Context, session string, positions []int) error {
	if len(positions) == 0 {
		return nil
	}

	sorted := slices.Clone(positions)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	slices.Reverse(sorted)

	args := make([]any, 0, len(sorted)+2)
	args = append(args, "__removed__:"+uuid.NewString(), int(r.ttl.Seconds()))
	for _, p := range sorted {
		args = append(args, p)
	}

	removed, err := removePositions.Run(ctx, r.client, []string{cartKey(session)}, args...).Int()
	if err != nil {
		return fmt.Errorf("redis remove cart lines: %w", err)
	}
	if removed < 0 {
		return apperrors.NotFound("cart line", positionsString(sorted))
	}
	return nil
}

// List returns the session's lines in storage order.
func (r *CartRepository) List(ctx context.Context, session string) ([]domain.LineItem, error) {
	raw, err := r.client.LRange(ctx, cartKey(session), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange cart: %w", err)
	}

	lines := make([]domain.LineItem, 0, len(raw))
	for i, s := range raw {
		var line domain.LineItem
		if err := json.Unmarshal([]byte(s), &line); err != nil {
			return nil, fmt.Errorf("unmarshal cart line %d: %w", i, err)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// Clear deletes the session's cart.
func (r *CartRepository) Clear(ctx context.Context, session string) error {
	if err := r.client.Del(ctx, cartKey(session)).Err(); err != nil {
		return fmt.Errorf("redis del cart: %w", err)
	}
	return nil
}

func positionsString(positions []int) string {
	s := ""
	for i, p := range positions {
		if i > 0 {
			s += ","
		}
		s += strconv.Itoa(p)
	}
	return s
}
