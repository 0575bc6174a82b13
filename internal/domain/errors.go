package domain

import (
	"errors"
	"fmt"
	"time"
)

// Kind clasifica un error para el llamante (HTTP, CLI).
type Kind string

const (
	KindValidation    Kind = "VALIDATION"
	KindConflict      Kind = "STATE_CONFLICT"
	KindAuthorization Kind = "AUTHORIZATION"
	KindResource      Kind = "RESOURCE"
	KindNotFound      Kind = "NOT_FOUND"
	KindInternal      Kind = "INTERNAL"
)

// Validación: la petición es estructuralmente inválida.
var (
	ErrInvalidInitialPrice  = errors.New("invalid initial price")
	ErrInvalidCategoryCount = errors.New("invalid category count")
	ErrInvalidCategory      = errors.New("invalid category")
	ErrInvalidText          = errors.New("invalid text")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidIdentity      = errors.New("invalid identity")
	ErrDeadlineTooSoon      = errors.New("deadline too soon")
	ErrDeadlineTooFar       = errors.New("deadline too far")
	ErrInvalidParams        = errors.New("invalid parameters")
)

// Conflictos de estado: la operación no aplica al estado actual.
var (
	ErrSameOwner            = errors.New("caller already owns the answer")
	ErrOpinionInactive      = errors.New("opinion inactive")
	ErrOpinionActive        = errors.New("opinion already active")
	ErrNothingToModerate    = errors.New("nothing to moderate")
	ErrNotForSale           = errors.New("question not for sale")
	ErrPoolNotActive        = errors.New("pool not active")
	ErrPoolDeadlinePassed   = errors.New("pool deadline passed")
	ErrPoolNotExpirable     = errors.New("pool deadline not reached")
	ErrPoolNotExpired       = errors.New("pool not expired")
	ErrPoolTargetNotReached = errors.New("pool target not reached")
	ErrSameAnswer           = errors.New("proposed answer equals current answer")
	ErrNothingToWithdraw    = errors.New("nothing to withdraw")
	ErrNothingToClaim       = errors.New("nothing to claim")
)

// Autorización, recursos y búsquedas.
var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrRateLimited       = errors.New("rate limited")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrPriceMismatch     = errors.New("price mismatch")
	ErrOpinionNotFound   = errors.New("opinion not found")
	ErrPoolNotFound      = errors.New("pool not found")
)

var kinds = map[error]Kind{
	ErrInvalidInitialPrice:  KindValidation,
	ErrInvalidCategoryCount: KindValidation,
	ErrInvalidCategory:      KindValidation,
	ErrInvalidText:          KindValidation,
	ErrInvalidAmount:        KindValidation,
	ErrInvalidIdentity:      KindValidation,
	ErrDeadlineTooSoon:      KindValidation,
	ErrDeadlineTooFar:       KindValidation,
	ErrInvalidParams:        KindValidation,

	ErrSameOwner:            KindConflict,
	ErrOpinionInactive:      KindConflict,
	ErrOpinionActive:        KindConflict,
	ErrNothingToModerate:    KindConflict,
	ErrNotForSale:           KindConflict,
	ErrPoolNotActive:        KindConflict,
	ErrPoolDeadlinePassed:   KindConflict,
	ErrPoolNotExpirable:     KindConflict,
	ErrPoolNotExpired:       KindConflict,
	ErrPoolTargetNotReached: KindConflict,
	ErrSameAnswer:           KindConflict,
	ErrNothingToWithdraw:    KindConflict,
	ErrNothingToClaim:       KindConflict,

	ErrUnauthorized:      KindAuthorization,
	ErrRateLimited:       KindResource,
	ErrInsufficientFunds: KindResource,
	ErrPriceMismatch:     KindResource,
	ErrOpinionNotFound:   KindNotFound,
	ErrPoolNotFound:      KindNotFound,
}

// KindOf devuelve la categoría del error, recorriendo la cadena de wrapping.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for sentinel, kind := range kinds {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindInternal
}

// InsufficientFundsError indica el importe exacto que el llamante debe cubrir.
type InsufficientFundsError struct {
	Required  Amount
	Available Amount
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %s, available %s", e.Required, e.Available)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// PriceMismatchError se devuelve cuando el llamante esperaba un precio ya obsoleto.
type PriceMismatchError struct {
	Expected Amount
	Required Amount
}

func (e *PriceMismatchError) Error() string {
	return fmt.Sprintf("price mismatch: expected %s, required %s", e.Expected, e.Required)
}

func (e *PriceMismatchError) Unwrap() error { return ErrPriceMismatch }

// RateLimitError indica el cupo por bloque y cuándo vuelve a haber hueco.
type RateLimitError struct {
	Limit   int
	RetryAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %d trades per block, retry at %s", e.Limit, e.RetryAt.UTC().Format(time.RFC3339Nano))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// TargetNotReachedError indica cuánto falta para que un pool pueda ejecutarse.
type TargetNotReachedError struct {
	Remaining Amount
}

func (e *TargetNotReachedError) Error() string {
	return fmt.Sprintf("pool target not reached: %s remaining", e.Remaining)
}

func (e *TargetNotReachedError) Unwrap() error { return ErrPoolTargetNotReached }
