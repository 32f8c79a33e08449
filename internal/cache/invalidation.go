package cache

import (
	"context"
	"errors"
	"log/slog"

	"chatterbox/internal/observability"
)

// Invalidation collects keys and patterns touched by a unit of work. It is
// applied once the surrounding transaction has committed.
type Invalidation struct {
	keys     []string
	patterns []string
}

// NewInvalidation returns an empty collector.
func NewInvalidation() *Invalidation {
	return &Invalidation{}
}

// Key schedules exact keys for removal.
func (i *Invalidation) Key(keys ...string) *Invalidation {
	i.keys = append(i.keys, keys...)
	return i
}

// Pattern schedules a SCAN pattern for removal.
func (i *Invalidation) Pattern(patterns ...string) *Invalidation {
	i.patterns = append(i.patterns, patterns...)
	return i
}

// User schedules the profile entry of each user.
func (i *Invalidation) User(userIDs ...uint) *Invalidation {
	for _, id := range userIDs {
		i.keys = append(i.keys, UserKey(id))
	}
	return i
}

// Chat schedules the chat entry and every cached message page of the chat.
func (i *Invalidation) Chat(chatID uint) *Invalidation {
	i.keys = append(i.keys, ChatKey(chatID))
	i.patterns = append(i.patterns, MessagesPattern(chatID))
	return i
}

// Messages schedules the cached message pages of the chat.
func (i *Invalidation) Messages(chatID uint) *Invalidation {
	i.patterns = append(i.patterns, MessagesPattern(chatID))
	return i
}

// ChatLists schedules the chat list of each user.
func (i *Invalidation) ChatLists(userIDs ...uint) *Invalidation {
	for _, id := range userIDs {
		i.keys = append(i.keys, UserChatsKey(id))
	}
	return i
}

// Empty reports whether nothing has been scheduled.
func (i *Invalidation) Empty() bool {
	return len(i.keys) == 0 && len(i.patterns) == 0
}

// Apply evicts everything collected. Failures are logged and counted but not
// retried; every cached entry carries a TTL that bounds staleness.
func (i *Invalidation) Apply(ctx context.Context) error {
	if i == nil || i.Empty() || client == nil {
		return nil
	}

	var errs []error
	if err := Delete(ctx, dedupe(i.keys)...); err != nil {
		errs = append(errs, err)
	}
	for _, pattern := range dedupe(i.patterns) {
		if _, err := EvictPattern(ctx, pattern); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		observability.CacheEvictions.WithLabelValues("failed").Inc()
		observability.CacheEvictionFailures.Inc()
		observability.GlobalLogger.WarnContext(ctx, "cache eviction failed after commit",
			slog.Any("keys", i.keys),
			slog.Any("patterns", i.patterns),
			slog.String("error", err.Error()),
		)
		return err
	}
	observability.CacheEvictions.WithLabelValues("ok").Inc()
	return nil
}

func dedupe(in []string) []string {
	if len(in) < 2 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
