// Package apperr defines the stable, machine-readable error kinds hexwar's
// command surface reports to callers.
package apperr

import (
	"fmt"
	"net/http"

	"github.com/kartikbazzad/hexwar/pkg/logger"
)

// Kind is a stable machine-readable error category.
type Kind string

const (
	KindNotLeader            Kind = "not_leader"
	KindConsensusUnavailable Kind = "consensus_unavailable"
	KindIllegalCommand       Kind = "illegal_command"
	KindProvisioningFailure  Kind = "provisioning_failure"
	KindTransportFault       Kind = "transport_fault"
	KindDeterminismViolation Kind = "determinism_violation"
	KindInternal             Kind = "internal"
)

// AppError is a structured application error with an HTTP status and a
// stable machine-readable Kind.
type AppError struct {
	Kind    Kind   `json:"kind"`
	Status  int    `json:"-"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func New(kind Kind, status int, message string, err error) *AppError {
	return &AppError{Kind: kind, Status: status, Message: message, Err: err}
}

// NotLeader indicates a mutation was attempted at a follower. hint is the
// leader's node ID, if known.
func NotLeader(hint string) *AppError {
	msg := "not the leader"
	if hint != "" {
		msg = fmt.Sprintf("not the leader, try %s", hint)
	}
	return New(KindNotLeader, http.StatusMisdirectedRequest, msg, nil)
}

// Unavailable indicates no quorum is reachable; the caller may retry.
func Unavailable(err error) *AppError {
	return New(KindConsensusUnavailable, http.StatusServiceUnavailable, "consensus unavailable", err)
}

// IllegalCommand indicates a pre-append validation failure (adjacency,
// ownership). No log entry is produced.
func IllegalCommand(message string) *AppError {
	return New(KindIllegalCommand, http.StatusBadRequest, message, nil)
}

// ProvisioningFailure indicates the external task spawner refused a spawn
// request.
func ProvisioningFailure(err error) *AppError {
	return New(KindProvisioningFailure, http.StatusBadGateway, "provisioning failed", err)
}

// TransportFault indicates a UDP/stream transport error; callers treat the
// affected task as reset, not fatal.
func TransportFault(err error) *AppError {
	return New(KindTransportFault, http.StatusInternalServerError, "transport fault", err)
}

// Internal wraps an unexpected error.
func Internal(err error) *AppError {
	return New(KindInternal, http.StatusInternalServerError, "internal error", err)
}

// DeterminismViolation logs and panics: a committed event the state
// machine cannot make sense of indicates this agent has diverged from its
// peers, and it must halt rather than continue applying inconsistent
// state.
func DeterminismViolation(context string, err error) {
	logger.Get().Error("determinism violation, halting", "context", context, "error", err)
	panic(New(KindDeterminismViolation, http.StatusInternalServerError, "determinism violation: "+context, err))
}
