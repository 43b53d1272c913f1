package service

import (
	"strings"

	"github.com/exowa/exowa-api/internal/models"
	appErrors "github.com/exowa/exowa-api/pkg/errors"
)

// QuotaConfig carries the platform-wide fallback limits.
type QuotaConfig struct {
	DefaultChildLimit int
	DefaultTopicLimit int
}

// QuotaEnforcer resolves per-user limits and applies them. Resolution
// precedence: persisted account limit, then token claim, then default.
type QuotaEnforcer struct {
	config QuotaConfig
}

// NewQuotaEnforcer constructs a QuotaEnforcer.
func NewQuotaEnforcer(config QuotaConfig) *QuotaEnforcer {
	if config.DefaultChildLimit <= 0 {
		config.DefaultChildLimit = 1
	}
	if config.DefaultTopicLimit <= 0 {
		config.DefaultTopicLimit = 1
	}
	return &QuotaEnforcer{config: config}
}

// ResolveChildLimit returns the effective child cap for a user. Only
// non-negative limits count; anything else falls through to the next
// source. Zero is a valid limit that blocks registration outright.
func (q *QuotaEnforcer) ResolveChildLimit(user *models.User, claims *models.JWTClaims) int {
	if user != nil && usableLimit(user.ChildLimit) {
		return *user.ChildLimit
	}
	if claims != nil && usableLimit(claims.ChildLimit) {
		return *claims.ChildLimit
	}
	return q.config.DefaultChildLimit
}

// ResolveTopicLimit returns the effective topic cap for a child, falling
// back through the owner's limits.
func (q *QuotaEnforcer) ResolveTopicLimit(child *models.Child, owner *models.User, claims *models.JWTClaims) int {
	if child != nil && usableLimit(child.TopicLimit) {
		return *child.TopicLimit
	}
	if owner != nil && usableLimit(owner.TopicLimit) {
		return *owner.TopicLimit
	}
	if claims != nil && usableLimit(claims.TopicLimit) {
		return *claims.TopicLimit
	}
	return q.config.DefaultTopicLimit
}

func usableLimit(v *int) bool {
	return v != nil && *v >= 0
}

// EnforceChildQuota rejects registration once the current count has reached
// the limit. A zero limit blocks all registrations.
func (q *QuotaEnforcer) EnforceChildQuota(current, limit int) error {
	if current >= limit {
		return appErrors.Clone(appErrors.ErrQuotaExceeded, "child registration limit reached")
	}
	return nil
}

// EnforceTopicQuota counts non-empty trimmed topics against the limit.
func (q *QuotaEnforcer) EnforceTopicQuota(topics []string, limit int) error {
	count := 0
	for _, topic := range topics {
		if strings.TrimSpace(topic) != "" {
			count++
		}
	}
	if count > limit {
		return appErrors.Clone(appErrors.ErrQuotaExceeded, "topic limit exceeded")
	}
	return nil
}
