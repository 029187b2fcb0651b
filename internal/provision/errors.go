package provision

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies terminal provisioning failures.
type ErrorKind string

const (
	// KindTimeout means a poll loop exhausted its budget.
	KindTimeout ErrorKind = "timeout"
	// KindNotFound means an expected named resource (policy, interface) is
	// absent from the controller.
	KindNotFound ErrorKind = "not_found"
	// KindRemoteRejected means the controller answered a mutating call with
	// a non-2xx/non-202 status.
	KindRemoteRejected ErrorKind = "remote_rejected"
	// KindHAFailed means the controller reported a failed HA member.
	KindHAFailed ErrorKind = "ha_failed"
	// KindDeployFailed means the controller reported a failed deployment job.
	KindDeployFailed ErrorKind = "deploy_failed"
	// KindPartiallyVanished means a previously-registered device disappeared
	// from the inventory mid-wait.
	KindPartiallyVanished ErrorKind = "partially_vanished"
	// KindTransient means a connection-level failure during polling. It is
	// tolerated inside monitoring loops and fatal elsewhere.
	KindTransient ErrorKind = "transient"
)

// Error is a typed terminal provisioning failure.
type Error struct {
	Kind   ErrorKind
	Op     string   // operation that failed, e.g. "registration.appear"
	Detail []string // affected resource names, if any
	Err    error    // wrapped cause, if any
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Op, e.Kind)
	if len(e.Detail) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Detail, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is (or wraps) a provisioning Error of the given
// kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == kind
}
