// Package jiterr defines the structured error model shared by every JIT
// subsystem. Each failure carries a Kind (a closed set of machine-readable
// tags), a human-readable message, and context fields sufficient for
// programmatic handling. Kinds map onto coarse categories that callers
// translate into process exit codes.
package jiterr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind identifies a failure mode.
type Kind string

// Error kinds, grouped as in the coordination model.
const (
	// Validation
	KindInvalidLabelFormat     Kind = "invalid_label_format"
	KindUnknownGate            Kind = "unknown_gate"
	KindUnknownType            Kind = "unknown_type"
	KindInvalidStateTransition Kind = "invalid_state_transition"
	KindMissingAgentIdentity   Kind = "missing_agent_identity"
	KindInvalidArgument        Kind = "invalid_argument"

	// Graph
	KindCycleDetected     Kind = "cycle_detected"
	KindUnknownDependency Kind = "unknown_dependency"

	// Claim
	KindAlreadyClaimed Kind = "already_claimed"
	KindNotOwner       Kind = "not_owner"
	KindStaleLease     Kind = "stale_lease"
	KindQuotaExceeded  Kind = "quota_exceeded"
	KindMissingReason  Kind = "missing_reason"
	KindLeaseNotFound  Kind = "lease_not_found"

	// Gate
	KindGateBlocked               Kind = "gate_blocked"
	KindGateTimeout               Kind = "gate_timeout"
	KindGateUnknownCheckerVariant Kind = "gate_unknown_checker_variant"

	// Resource
	KindLockTimeout           Kind = "lock_timeout"
	KindIO                    Kind = "io_error"
	KindSchemaVersionMismatch Kind = "schema_version_mismatch"

	// Consistency
	KindIndexInconsistent Kind = "index_inconsistent"

	// Lookup
	KindNotFound  Kind = "not_found"
	KindAmbiguous Kind = "ambiguous_id"

	KindInternal Kind = "internal_error"
)

// Category is the coarse failure class callers map to exit codes.
type Category int

// Categories in exit-code order.
const (
	CategoryOk Category = iota
	CategoryValidation
	CategoryNotFound
	CategoryConflict
	CategoryPermission
	CategoryResourceBusy
	CategoryIO
	CategoryInternal
)

// Error is the uniform structured failure record.
type Error struct {
	Kind    Kind
	Message string
	// Context holds programmatic detail (owning agent, offending edge,
	// lock path, and so on). Values are kept printable.
	Context map[string]string
	// Wrapped is the underlying cause, if any.
	Wrapped error
}

// New constructs an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind around a cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Wrapped: cause}
}

// With attaches a context field and returns the error for chaining.
func (e *Error) With(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// Get returns a context field, or empty string.
func (e *Error) Get(key string) string {
	return e.Context[key]
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%s", k, e.Context[k])
		}
		b.WriteString(")")
	}
	if e.Wrapped != nil {
		b.WriteString(": ")
		b.WriteString(e.Wrapped.Error())
	}
	return b.String()
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.Wrapped }

// Is matches any *Error of the same Kind, so sentinel comparisons like
// errors.Is(err, jiterr.New(jiterr.KindCycleDetected, "")) work without
// comparing messages.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// KindOf extracts the Kind from any error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// CategoryOf maps an error to its coarse category.
func CategoryOf(err error) Category {
	if err == nil {
		return CategoryOk
	}
	switch KindOf(err) {
	case KindInvalidLabelFormat, KindUnknownGate, KindUnknownType,
		KindInvalidStateTransition, KindMissingAgentIdentity,
		KindMissingReason, KindInvalidArgument, KindUnknownDependency:
		return CategoryValidation
	case KindNotFound, KindLeaseNotFound:
		return CategoryNotFound
	case KindCycleDetected, KindAlreadyClaimed, KindQuotaExceeded,
		KindGateBlocked, KindStaleLease, KindAmbiguous, KindIndexInconsistent:
		return CategoryConflict
	case KindNotOwner:
		return CategoryPermission
	case KindLockTimeout:
		return CategoryResourceBusy
	case KindIO, KindSchemaVersionMismatch:
		return CategoryIO
	default:
		return CategoryInternal
	}
}

// ExitCode maps a category to its conventional process exit code.
func (c Category) ExitCode() int { return int(c) }

// Constructors for kinds whose context fields are part of the contract.

// CycleDetected reports a rejected dependency edge from -> to.
func CycleDetected(from, to string) *Error {
	return New(KindCycleDetected, "adding dependency %s -> %s would create a cycle", from, to).
		With("from", from).With("to", to)
}

// UnknownDependency reports a dependency on a nonexistent issue.
func UnknownDependency(id string) *Error {
	return New(KindUnknownDependency, "dependency %s does not resolve to an existing issue", id).
		With("id", id)
}

// AlreadyClaimed reports an active lease held by another actor.
func AlreadyClaimed(issueID, by string, until time.Time) *Error {
	e := New(KindAlreadyClaimed, "issue %s is already claimed by %s", issueID, by).
		With("issue_id", issueID).With("by", by)
	if !until.IsZero() {
		e.With("until", until.UTC().Format(time.RFC3339))
	}
	return e
}

// QuotaExceeded reports an indefinite-lease quota violation.
func QuotaExceeded(scope string, limit int) *Error {
	return New(KindQuotaExceeded, "indefinite lease quota exceeded for %s (limit %d)", scope, limit).
		With("scope", scope).With("limit", fmt.Sprintf("%d", limit))
}

// GateBlocked reports gates preventing a state transition.
func GateBlocked(stage string, keys []string) *Error {
	return New(KindGateBlocked, "%s gates not passed: %s", stage, strings.Join(keys, ", ")).
		With("stage", stage).With("keys", strings.Join(keys, ","))
}

// LockTimeout reports a lock acquisition that exceeded its bound.
func LockTimeout(path string, timeout time.Duration) *Error {
	return New(KindLockTimeout, "timed out acquiring lock %s after %s", path, timeout).
		With("path", path).With("timeout", timeout.String())
}

// SchemaVersionMismatch reports a document whose version the reader refuses.
func SchemaVersionMismatch(path string, got, want int) *Error {
	return New(KindSchemaVersionMismatch, "%s has schema_version %d, this build understands %d", path, got, want).
		With("path", path).
		With("got", fmt.Sprintf("%d", got)).
		With("want", fmt.Sprintf("%d", want))
}
