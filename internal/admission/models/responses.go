package models

// Error codes returned to clients on rejection.
const (
	CodeRateLimitPerSecond = "RATE_LIMIT_PER_SECOND"
	CodeDailyLimitReached  = "DAILY_LIMIT_REACHED"
	CodeInternalError      = "INTERNAL_ERROR"
)

// RateLimitErrorBody is the error object of a per-second rejection.
type RateLimitErrorBody struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	RetryAfterMs int64  `json:"retryAfterMs"`
}

// DailyLimitErrorBody is the error object of a daily quota rejection.
type DailyLimitErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Quota   int64  `json:"quota"`
	Limit   int64  `json:"limit"`
}

// RejectionResponse is the 429 envelope.
type RejectionResponse struct {
	Success bool `json:"success"`
	Error   any  `json:"error"`
}
