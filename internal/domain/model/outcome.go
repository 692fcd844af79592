package model

import (
	"math"
	"time"
)

// SubmitStatus is the result of handing a profile to the pipeline.
type SubmitStatus string

// Submission statuses.
const (
	Accepted    SubmitStatus = "accepted"
	RateLimited SubmitStatus = "rate_limited"
)

// SubmitResult is returned to the front end for every submission.
type SubmitResult struct {
	ProfileID  ProfileID
	Status     SubmitStatus
	RetryAfter time.Duration // set when Status is RateLimited
}

// RetryAfterMinutes rounds RetryAfter up to whole minutes.
func (r SubmitResult) RetryAfterMinutes() int {
	return int(math.Ceil(r.RetryAfter.Minutes()))
}

// Outcome is the terminal state of one queued profile.
type Outcome string

// Worker outcomes.
const (
	Stored           Outcome = "stored"
	SkippedDuplicate Outcome = "skipped_duplicate"
	FailedProfile    Outcome = "failed_profile"
	FailedStore      Outcome = "failed_store"
)

// ItemResult reports what happened to one queued profile.
type ItemResult struct {
	ProfileID ProfileID
	Outcome   Outcome
	Record    Record // nil when the profile fetch failed
	Err       error
}
