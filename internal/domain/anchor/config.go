package anchor

import (
	"time"

	"github.com/agrimrv/backend/internal/config"
)

type Config struct {
	RequiredDepth     int64
	SubmitMaxAttempts int32
	SubmitBackoffBase time.Duration
	SubmitBackoffMax  time.Duration
	PollInterval      time.Duration
	PollMaxErrors     int32
	TotalBudget       time.Duration
	CallTimeout       time.Duration
	SubmitStaleAfter  time.Duration
}

func ConfigFrom(cfg config.Config) Config {
	return Config{
		RequiredDepth:     cfg.AnchorRequiredDepth,
		SubmitMaxAttempts: cfg.AnchorSubmitMaxAttempts,
		SubmitBackoffBase: cfg.AnchorSubmitBackoffBase,
		SubmitBackoffMax:  cfg.AnchorSubmitBackoffMax,
		PollInterval:      cfg.AnchorPollInterval,
		PollMaxErrors:     cfg.AnchorPollMaxErrors,
		TotalBudget:       cfg.AnchorTotalBudget,
		CallTimeout:       cfg.LedgerCallTimeout,
		SubmitStaleAfter:  cfg.AnchorSubmitStaleAfter,
	}
}

func (c Config) withDefaults() Config {
	if c.RequiredDepth < 1 {
		c.RequiredDepth = 1
	}
	if c.SubmitMaxAttempts < 1 {
		c.SubmitMaxAttempts = 1
	}
	if c.SubmitBackoffBase <= 0 {
		c.SubmitBackoffBase = 500 * time.Millisecond
	}
	if c.SubmitBackoffMax < c.SubmitBackoffBase {
		c.SubmitBackoffMax = c.SubmitBackoffBase
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.PollMaxErrors < 1 {
		c.PollMaxErrors = 1
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.SubmitStaleAfter <= 0 {
		c.SubmitStaleAfter = 5 * time.Minute
	}
	return c
}

// exponentialBackoff returns base*2^(attempt-1) capped at ceiling.
func exponentialBackoff(base, ceiling time.Duration, attempt int32) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := int32(1); i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}
