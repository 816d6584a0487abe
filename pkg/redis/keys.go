package redis

import "fmt"

// SweepLockKey names the mutex one background sweep runs under.
func SweepLockKey(name string) string {
	return fmt.Sprintf("nftstore:sweep:lock:%s", name)
}

// UserRateLimitKey holds the sliding window of one user's rate-limited calls.
func UserRateLimitKey(userID uint64) string {
	return fmt.Sprintf("rate_limit:nftstore:user:%d", userID)
}

// IPRateLimitKey is the fallback window when no user is known.
func IPRateLimitKey(ip string) string {
	return fmt.Sprintf("rate_limit:nftstore:ip:%s", ip)
}

// PaymentIdempotencyKey maps a client idempotency key to a create-payment request.
func PaymentIdempotencyKey(userID uint64, idemKey string) string {
	return fmt.Sprintf("nftstore:idem:payment:%d:%s", userID, idemKey)
}

// WebhookEventKey marks a card processor event as handled.
func WebhookEventKey(eventID string) string {
	return fmt.Sprintf("nftstore:webhook:seen:%s", eventID)
}
