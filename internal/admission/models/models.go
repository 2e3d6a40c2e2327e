package models

import (
	"fmt"
	"time"
)

// Status is the outcome reported by the admission script.
type Status string

const (
	StatusOK                 Status = "OK"
	StatusRateLimitExceeded  Status = "RATE_LIMIT_EXCEEDED"
	StatusDailyLimitExceeded Status = "DAILY_LIMIT_EXCEEDED"
)

// ParseStatus rejects anything the script is not allowed to return.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusOK, StatusRateLimitExceeded, StatusDailyLimitExceeded:
		return st, nil
	}
	return "", fmt.Errorf("unknown admission status %q", s)
}

// Cost is what a single request charges against the two limits.
type Cost struct {
	Units int64
	Bytes int64
}

// Limits are the fixed parameters of every check.
type Limits struct {
	Capacity        int64
	RefillPerMs     float64
	DailyBytesLimit int64
	TTLSeconds      int64
}

// RefillPerSecond is RefillPerMs expressed per second.
func (l Limits) RefillPerSecond() float64 {
	return l.RefillPerMs * 1000
}

// CheckInput is one invocation of the admission script.
type CheckInput struct {
	Keys   Keys
	Now    time.Time
	Cost   Cost
	Limits Limits
}

// Result carries the script outcome. Tokens is the post-check bucket level for
// OK and the refilled, undecremented level for RATE_LIMIT_EXCEEDED. Quota is the
// persisted total for OK and the prospective total for DAILY_LIMIT_EXCEEDED.
type Result struct {
	Status Status
	Tokens float64
	Quota  int64
}

func (r *Result) Allowed() bool {
	return r != nil && r.Status == StatusOK
}

// Decision is a Result plus what the caller needs to answer the client.
type Decision struct {
	Result
	ClientID     string
	Cost         Cost
	Limits       Limits
	RetryAfterMs int64
}
