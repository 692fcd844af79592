package submitter

import "time"

// Config holds configuration for a bulk submission.
type Config struct {
	BaseURL string        // Base URL of the running service
	Workers int           // Number of concurrent submitters
	Timeout time.Duration // HTTP request timeout
	Verbose bool          // Log every response
}

// Result classifies one submission.
type Result string

// Submission results.
const (
	ResultAccepted    Result = "accepted"
	ResultRateLimited Result = "rate_limited"
	ResultRejected    Result = "rejected"
	ResultFailed      Result = "failed"
)

// Stats holds run statistics.
type Stats struct {
	Submitted   int
	Accepted    int
	RateLimited int
	Rejected    int
	Failed      int
	// RetryAfterMinutes is the longest wait reported by a rate-limited reply.
	RetryAfterMinutes int
	Duration          time.Duration
}

// submitRequest is the body of POST /profiles.
type submitRequest struct {
	URL string `json:"url"`
}

// submitResponse is the body of a 202 or 429 reply.
type submitResponse struct {
	Status            string `json:"status"`
	ProfileID         string `json:"profile_id"`
	RetryAfterMinutes int    `json:"retry_after_minutes"`
}
