// Package joberr defines the two-level error taxonomy handlers use to report
// outcomes to the dispatcher: Retryable failures that should be attempted
// again after a delay, and Fatal failures that terminate a job.
package joberr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Retryable is a transient failure: RPC timeout, rate limit, bundler outage,
// indexer lag, inclusion timeout, broadcast server busy. The dispatcher
// advances attempts and schedules next_retry_at using Delay (or its own
// backoff schedule if Delay is zero).
type Retryable struct {
	Msg   string
	Delay time.Duration
}

func (e *Retryable) Error() string {
	return e.Msg
}

// NewRetryable builds a Retryable with an explicit delay override, used by
// safety-envelope checks (global pause, rate limit) that know precisely how
// long to wait.
func NewRetryable(delay time.Duration, format string, args ...any) *Retryable {
	return &Retryable{Msg: fmt.Sprintf(format, args...), Delay: delay}
}

// Fatal is a permanent failure for this job: unknown state, a confirmed
// target-chain failure code, an unsupported intent shape. The dispatcher
// moves the job to FailedFatal and releases any DelegateReservation.
type Fatal struct {
	Msg string
}

func (e *Fatal) Error() string {
	return e.Msg
}

func NewFatal(format string, args ...any) *Fatal {
	return &Fatal{Msg: fmt.Sprintf(format, args...)}
}

// TransitionRejectReason is the machine-readable sub-reason attached to a
// rejected state transition; see jobstate.AllowedFrom and store's
// conditional-update predicate.
type TransitionRejectReason string

const (
	ReasonStateMismatch      TransitionRejectReason = "state_mismatch"
	ReasonLeaseOwnerMismatch TransitionRejectReason = "lease_owner_mismatch"
	ReasonLeaseExpired       TransitionRejectReason = "lease_expired"
	ReasonJobNotFound        TransitionRejectReason = "job_not_found"
	ReasonUnknownConflict    TransitionRejectReason = "unknown_conflict"
)

// TransitionReject is surfaced for observability only; on receipt the
// dispatcher stops operating on the job for this tick and lets it return to
// the lease pool.
type TransitionReject struct {
	JobID  int64
	Reason TransitionRejectReason
	Detail string
}

func (e *TransitionReject) Error() string {
	return fmt.Sprintf("[transition_reject:%s] job_id=%d: %s", e.Reason, e.JobID, e.Detail)
}

// ErrLostLease is returned by store/lease renewal calls when the affected row
// no longer matches (leased_by=me AND lease_until>=now): someone else's
// lease, or the row moved to a terminal state.
var ErrLostLease = errors.New("lost job lease")

// AsRetryable reports whether err (or something it wraps) is a Retryable,
// and if so returns it.
func AsRetryable(err error) (*Retryable, bool) {
	var r *Retryable
	ok := errors.As(err, &r)
	return r, ok
}

// AsFatal reports whether err (or something it wraps) is a Fatal.
func AsFatal(err error) (*Fatal, bool) {
	var f *Fatal
	ok := errors.As(err, &f)
	return f, ok
}

// AsTransitionReject reports whether err (or something it wraps) is a
// TransitionReject.
func AsTransitionReject(err error) (*TransitionReject, bool) {
	var t *TransitionReject
	ok := errors.As(err, &t)
	return t, ok
}

// ErrorClass buckets an error for Telemetry, per spec.md §4.6. Classification
// never affects control flow, only metric labels.
type ErrorClass string

const (
	ClassTransitionStateMismatch      ErrorClass = "transition_state_mismatch"
	ClassTransitionLeaseExpired       ErrorClass = "transition_lease_expired"
	ClassTransitionLeaseOwnerMismatch ErrorClass = "transition_lease_owner_mismatch"
	ClassTransitionJobNotFound        ErrorClass = "transition_job_not_found"
	ClassLostJobLease                 ErrorClass = "lost_job_lease"
	ClassDelegateCapacityInsufficient ErrorClass = "delegate_capacity_insufficient"
	ClassGlobalPause                  ErrorClass = "global_pause"
	ClassIndexerLag                   ErrorClass = "indexer_lag"
	ClassOther                        ErrorClass = "other"
)

// Classify maps an error to its metric bucket. It never changes behavior.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassOther
	}
	if t, ok := AsTransitionReject(err); ok {
		switch t.Reason {
		case ReasonStateMismatch:
			return ClassTransitionStateMismatch
		case ReasonLeaseExpired:
			return ClassTransitionLeaseExpired
		case ReasonLeaseOwnerMismatch:
			return ClassTransitionLeaseOwnerMismatch
		case ReasonJobNotFound:
			return ClassTransitionJobNotFound
		}
		return ClassOther
	}
	if errors.Is(err, ErrLostLease) {
		return ClassLostJobLease
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "delegate_capacity_insufficient"):
		return ClassDelegateCapacityInsufficient
	case strings.Contains(msg, "global_pause:"):
		return ClassGlobalPause
	case strings.Contains(msg, "indexer_lag"):
		return ClassIndexerLag
	default:
		return ClassOther
	}
}
