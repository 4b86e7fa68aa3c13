package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/subquery/indexer-query-gateway/internal/channelstore"
	"github.com/subquery/indexer-query-gateway/internal/gwerrors"
	"github.com/subquery/indexer-query-gateway/internal/model"
	"go.uber.org/zap"
)

const (
	defaultDailyLimit = int64(86400)
	defaultRateLimit  = int64(1)
)

// Limiter tracks per-agreement daily/rate query budgets in the same
// Redis-backed KV as ChannelStore, keyed by the agreement id (a
// contract address, or the caller's IP for a free-trial grant).
type Limiter struct {
	kv            channelstore.KV
	tokenDuration time.Duration
}

func NewLimiter(kv channelstore.KV, tokenDuration time.Duration) *Limiter {
	return &Limiter{kv: kv, tokenDuration: tokenDuration}
}

// SaveLimits installs the daily/rate ceilings for an agreement,
// expiring at twice the token lifetime so the cache outlives any token
// minted against it.
func (l *Limiter) SaveLimits(ctx context.Context, agreement string, limits model.AgreementLimits) {
	ttl := l.tokenDuration * 2
	if err := l.kv.SetEx(ctx, dailyLimitKey(agreement), encodeInt(limits.DailyLimit), ttl); err != nil {
		zap.L().Error("auth: save daily limit failed", zap.String("agreement", agreement), zap.Error(err))
	}
	if err := l.kv.SetEx(ctx, rateLimitKey(agreement), encodeInt(limits.RateLimit), ttl); err != nil {
		zap.L().Error("auth: save rate limit failed", zap.String("agreement", agreement), zap.Error(err))
	}
}

// Limits reports the current ceiling and today's/this-second's usage
// for an agreement. Unset ceilings default to the conservative
// (daily=86400, rate=1) pair so a never-initialized agreement is not
// treated as unlimited.
func (l *Limiter) Limits(ctx context.Context, agreement string) (dailyLimit, dailyUsed, rateLimit, rateUsed int64) {
	dailyLimit = l.getIntOrDefault(ctx, dailyLimitKey(agreement), defaultDailyLimit)
	rateLimit = l.getIntOrDefault(ctx, rateLimitKey(agreement), defaultRateLimit)

	date, second := dayAndSecond(time.Now())
	dailyUsed = l.getIntOrDefault(ctx, dailyUsageKey(agreement, date), 0)
	rateUsed = l.getIntOrDefault(ctx, rateUsageKey(agreement, second), 0)
	return
}

// CheckAndConsume enforces the daily/rate ceiling and, if the request
// is admitted, records the consumption. The order mirrors the
// reference flow: check first, then persist the incremented counters.
func (l *Limiter) CheckAndConsume(ctx context.Context, agreement string) error {
	dailyLimit, dailyUsed, rateLimit, rateUsed := l.Limits(ctx, agreement)

	if dailyUsed+1 > dailyLimit {
		return gwerrors.New(gwerrors.ErrDailyLimit, nil)
	}
	if rateUsed+1 > rateLimit {
		return gwerrors.New(gwerrors.ErrRateLimit, nil)
	}

	date, second := dayAndSecond(time.Now())
	if err := l.kv.SetEx(ctx, dailyUsageKey(agreement, date), encodeInt(dailyUsed+1), 86400*time.Second); err != nil {
		zap.L().Error("auth: record daily usage failed", zap.String("agreement", agreement), zap.Error(err))
	}
	if err := l.kv.SetEx(ctx, rateUsageKey(agreement, second), encodeInt(rateUsed+1), time.Second); err != nil {
		zap.L().Error("auth: record rate usage failed", zap.String("agreement", agreement), zap.Error(err))
	}
	return nil
}

func (l *Limiter) getIntOrDefault(ctx context.Context, key string, def int64) int64 {
	raw, err := l.kv.Get(ctx, key)
	if err != nil || len(raw) == 0 {
		return def
	}
	var v int64
	if _, err := fmt.Sscanf(string(raw), "%d", &v); err != nil {
		return def
	}
	return v
}

func encodeInt(v int64) []byte { return []byte(fmt.Sprintf("%d", v)) }

func dailyLimitKey(agreement string) string { return agreement + "-dlimit" }
func rateLimitKey(agreement string) string  { return agreement + "-rlimit" }
func dailyUsageKey(agreement string, date int64) string {
	return fmt.Sprintf("%s-daily-%d", agreement, date)
}
func rateUsageKey(agreement string, second int64) string {
	return fmt.Sprintf("%s-rate-%d", agreement, second)
}

// dayAndSecond returns the day count (days since an epoch, matching
// the reference implementation's date-based daily bucket) and the
// unix second used as the rate bucket.
func dayAndSecond(now time.Time) (date int64, second int64) {
	epoch := time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)
	date = int64(now.UTC().Sub(epoch).Hours() / 24)
	second = now.Unix()
	return
}
