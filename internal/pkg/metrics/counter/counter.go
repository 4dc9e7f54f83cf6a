package counter

import (
	"context"
	"strconv"

	"github.com/ManuelReschke/LinkFox/internal/pkg/cache"
)

const (
	webhookReceivedKey  = "billing:counters:webhook_received"
	webhookDuplicateKey = "billing:counters:webhook_duplicate"
	webhookRejectedKey  = "billing:counters:webhook_rejected"
)

// AddWebhookReceived increments the received counter for an event type in Redis
func AddWebhookReceived(eventType string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookReceivedKey, field(eventType), 1).Err()
}

// AddWebhookDuplicate increments the duplicate-delivery counter for an event type in Redis
func AddWebhookDuplicate(eventType string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookDuplicateKey, field(eventType), 1).Err()
}

// AddWebhookRejected increments the rejected counter. Rejected deliveries
// often carry no parseable event type, so the bucket falls back to "unknown".
func AddWebhookRejected(eventType string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookRejectedKey, field(eventType), 1).Err()
}

// WebhookTotals returns the per-event-type counters for one of the webhook
// counter hashes. kind is "received", "duplicate" or "rejected".
func WebhookTotals(kind string) (map[string]int64, error) {
	key := webhookReceivedKey
	switch kind {
	case "duplicate":
		key = webhookDuplicateKey
	case "rejected":
		key = webhookRejectedKey
	}

	ctx := context.Background()
	data, err := cache.GetClient().HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	totals := make(map[string]int64, len(data))
	for k, v := range data {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		totals[k] = n
	}
	return totals, nil
}

func field(eventType string) string {
	if eventType == "" {
		return "unknown"
	}
	return eventType
}
