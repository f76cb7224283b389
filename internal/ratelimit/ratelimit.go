// Package ratelimit provides per-client admission control and daily cost
// accounting.
//
// The default Limiter is an in-memory token bucket per (key, kind).
// Multi-instance deployments substitute the Redis-backed implementation;
// the Limiter interface is the contract.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Limiter decides whether a request identified by key may proceed under the
// rule configured for kind. Implementations must be safe for concurrent use.
type Limiter interface {
	// CheckRate consumes one token when available. Returning an error signals
	// a limiter malfunction; callers treat errors as fail-open.
	CheckRate(ctx context.Context, key, kind string) (bool, error)

	Close() error
}

// Auditor receives denial and budget events. audit.Logger satisfies it.
type Auditor interface {
	RecordBestEffort(ctx context.Context, event string, data map[string]any)
}

// Rule is a token bucket: Limit tokens, refilled continuously over Period.
type Rule struct {
	Limit  int
	Period time.Duration
}

// Rate is the refill rate in tokens per second.
func (r Rule) Rate() float64 {
	if r.Period <= 0 {
		return 0
	}
	return float64(r.Limit) / r.Period.Seconds()
}

func (r Rule) String() string {
	return fmt.Sprintf("%d/%s", r.Limit, r.Period)
}

// ParseRule parses "30/1m" style rules.
func ParseRule(s string) (Rule, error) {
	limitStr, periodStr, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Rule{}, fmt.Errorf("rule %q: want <limit>/<period>", s)
	}
	limit, err := strconv.Atoi(strings.TrimSpace(limitStr))
	if err != nil || limit <= 0 {
		return Rule{}, fmt.Errorf("rule %q: limit must be a positive integer", s)
	}
	period, err := time.ParseDuration(strings.TrimSpace(periodStr))
	if err != nil || period <= 0 {
		return Rule{}, fmt.Errorf("rule %q: period must be a positive duration", s)
	}
	return Rule{Limit: limit, Period: period}, nil
}

// ParseRules parses "submit=30/1m,resolve=60/1m" into a kind → rule map.
func ParseRules(s string) (map[string]Rule, error) {
	rules := make(map[string]Rule)
	if strings.TrimSpace(s) == "" {
		return rules, nil
	}
	for _, part := range strings.Split(s, ",") {
		kind, spec, ok := strings.Cut(part, "=")
		kind = strings.TrimSpace(kind)
		if !ok || kind == "" {
			return nil, fmt.Errorf("entry %q: want <kind>=<limit>/<period>", part)
		}
		rule, err := ParseRule(spec)
		if err != nil {
			return nil, err
		}
		rules[kind] = rule
	}
	return rules, nil
}

// Rules resolves the rule for a kind, falling back to Default.
type Rules struct {
	Default Rule
	ByKind  map[string]Rule
}

func (r Rules) For(kind string) Rule {
	if rule, ok := r.ByKind[kind]; ok {
		return rule
	}
	return r.Default
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

func (NoopLimiter) CheckRate(context.Context, string, string) (bool, error) { return true, nil }

func (NoopLimiter) Close() error { return nil }

// AuditedLimiter records every denial before reporting it.
type AuditedLimiter struct {
	Limiter
	auditor Auditor
	onDeny  func(kind string)
}

func NewAuditedLimiter(l Limiter, auditor Auditor, onDeny func(kind string)) *AuditedLimiter {
	return &AuditedLimiter{Limiter: l, auditor: auditor, onDeny: onDeny}
}

func (a *AuditedLimiter) CheckRate(ctx context.Context, key, kind string) (bool, error) {
	ok, err := a.Limiter.CheckRate(ctx, key, kind)
	if err != nil || ok {
		return ok, err
	}
	if a.auditor != nil {
		a.auditor.RecordBestEffort(ctx, "ratelimit.denied", map[string]any{"key": key, "kind": kind})
	}
	if a.onDeny != nil {
		a.onDeny(kind)
	}
	return false, nil
}
