package middleware

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"chatterbox/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

//go:embed ratelimit_policies.yml
var defaultPolicies []byte

// BucketPolicy configures one token bucket.
type BucketPolicy struct {
	Capacity     int64         `yaml:"capacity"`
	RefillTokens int64         `yaml:"refill_tokens"`
	RefillPeriod time.Duration `yaml:"refill_period"`
	FailClosed   bool          `yaml:"fail_closed"`
}

func (p BucketPolicy) validate() error {
	if p.Capacity <= 0 || p.RefillTokens <= 0 || p.RefillPeriod <= 0 {
		return errors.New("capacity, refill_tokens and refill_period must be positive")
	}
	return nil
}

// Policies maps a policy name to its bucket.
type Policies map[string]BucketPolicy

type policyFile struct {
	Policies Policies `yaml:"policies"`
}

func parsePolicies(data []byte) (Policies, error) {
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rate limit policies: %w", err)
	}
	for name, p := range f.Policies {
		if err := p.validate(); err != nil {
			return nil, fmt.Errorf("policy %q: %w", name, err)
		}
	}
	return f.Policies, nil
}

// LoadPolicies returns the embedded policies overlaid with the ones in path.
// An empty path yields the embedded defaults.
func LoadPolicies(path string) (Policies, error) {
	policies, err := parsePolicies(defaultPolicies)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return policies, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rate limit policies: %w", err)
	}
	overrides, err := parsePolicies(data)
	if err != nil {
		return nil, err
	}
	for name, p := range overrides {
		policies[name] = p
	}
	return policies, nil
}

// Refill happens in whole periods. State lives in a hash with the token
// count and the timestamp of the last refill; the caller supplies the clock.
var tokenBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local period = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local cost = tonumber(ARGV[5])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end

local elapsed = now - ts
if elapsed >= period then
  local periods = math.floor(elapsed / period)
  tokens = math.min(capacity, tokens + periods * refill)
  ts = ts + periods * period
end

local allowed = 0
local retry = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  retry = period - (now - ts)
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', ts)
redis.call('PEXPIRE', KEYS[1], math.ceil(capacity / refill) * period + period)
return {allowed, tokens, retry}
`)

// Decision is the outcome of a token bucket check.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// TokenBucketLimiter enforces named BucketPolicies atomically in Redis.
type TokenBucketLimiter struct {
	rdb      *redis.Client
	policies Policies
	enabled  bool
	now      func() time.Time
}

// NewTokenBucketLimiter creates a limiter. A disabled limiter allows everything.
func NewTokenBucketLimiter(rdb *redis.Client, policies Policies, enabled bool) *TokenBucketLimiter {
	return &TokenBucketLimiter{rdb: rdb, policies: policies, enabled: enabled, now: time.Now}
}

func (l *TokenBucketLimiter) policy(name string) BucketPolicy {
	if p, ok := l.policies[name]; ok {
		return p
	}
	return l.policies["default"]
}

// Allow consumes one token from the bucket of key under the named policy.
func (l *TokenBucketLimiter) Allow(ctx context.Context, name, key string) (Decision, error) {
	p := l.policy(name)
	if !l.enabled || p.Capacity == 0 {
		return Decision{Allowed: true, Remaining: math.MaxInt64}, nil
	}
	if l.rdb == nil {
		return Decision{}, errors.New("redis client is nil")
	}

	res, err := tokenBucketScript.Run(ctx, l.rdb,
		[]string{fmt.Sprintf("tb:%s:%s", name, key)},
		p.Capacity, p.RefillTokens, p.RefillPeriod.Milliseconds(), l.now().UnixMilli(), 1,
	).Int64Slice()
	if err != nil {
		observability.RedisErrors.WithLabelValues("token_bucket").Inc()
		return Decision{}, err
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("unexpected token bucket reply %v", res)
	}
	return Decision{
		Allowed:    res[0] == 1,
		Remaining:  res[1],
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}

// Middleware enforces the named policy keyed by user or client IP.
func (l *TokenBucketLimiter) Middleware(name string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}
		d, err := l.Allow(c.UserContext(), name, clientKey(c))
		if err != nil {
			if l.policy(name).FailClosed {
				Logger.WarnContext(c.UserContext(), "token bucket unavailable, failing closed",
					"policy", name, "error", err)
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"error": "rate limit unavailable",
				})
			}
			return c.Next()
		}

		if d.Remaining != math.MaxInt64 {
			c.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
		}
		if !d.Allowed {
			observability.RateLimitRejections.WithLabelValues(name).Inc()
			secs := int(math.Ceil(d.RetryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(secs))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
				"code":  "TOO_MANY_REQUESTS",
			})
		}
		return c.Next()
	}
}
