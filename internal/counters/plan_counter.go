// Package counters keeps denormalized per-plan occurrence counts in Redis.
// The counts are a display aid; the authoritative count is always the
// occurrence table.
package counters

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// PlanCounter stores one hash per organization, keyed by plan id.
type PlanCounter struct {
	client *redis.Client
	prefix string
}

// NewPlanCounter creates a counter. Keys are "<prefix>:<orgID>".
func NewPlanCounter(client *redis.Client, prefix string) *PlanCounter {
	if prefix == "" {
		prefix = "plan_occurrences"
	}
	return &PlanCounter{client: client, prefix: prefix}
}

func (c *PlanCounter) key(orgID string) string {
	return c.prefix + ":" + orgID
}

// Adjust moves a plan's count by delta. A count never goes below zero.
func (c *PlanCounter) Adjust(ctx context.Context, orgID, planID string, delta int64) error {
	if delta == 0 || planID == "" {
		return nil
	}
	n, err := c.client.HIncrBy(ctx, c.key(orgID), planID, delta).Result()
	if err != nil {
		return fmt.Errorf("adjust plan counter: %w", err)
	}
	if n < 0 {
		if err := c.client.HSet(ctx, c.key(orgID), planID, 0).Err(); err != nil {
			return fmt.Errorf("clamp plan counter: %w", err)
		}
	}
	return nil
}

// Get returns a plan's count, zero when unset.
func (c *PlanCounter) Get(ctx context.Context, orgID, planID string) (int64, error) {
	n, err := c.client.HGet(ctx, c.key(orgID), planID).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get plan counter: %w", err)
	}
	return n, nil
}

// All returns every plan count for an organization.
func (c *PlanCounter) All(ctx context.Context, orgID string) (map[string]int64, error) {
	raw, err := c.client.HGetAll(ctx, c.key(orgID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list plan counters: %w", err)
	}
	out := make(map[string]int64, len(raw))
	for planID, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[planID] = n
	}
	return out, nil
}
