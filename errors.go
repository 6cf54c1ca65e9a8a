package ensagent

import (
	"errors"
	"fmt"

	"github.com/everFinance/ensagent/schema"
)

// failure kinds, match with errors.Is
var (
	ErrInvalidNameFormat   = errors.New("invalid_name_format")
	ErrInvalidDuration     = errors.New("invalid_duration")
	ErrInvalidOwnerAddress = errors.New("invalid_owner_address")
	ErrInvalidMaxPrice     = errors.New("invalid_max_price")

	ErrOwnerResolutionFailed   = errors.New("owner_resolution_failed")
	ErrPriceQueryFailed        = errors.New("price_query_failed")
	ErrAvailabilityQueryFailed = errors.New("availability_query_failed")
	ErrNameUnavailable         = errors.New("name_unavailable")

	ErrCommitTransactionFailed   = errors.New("commit_transaction_failed")
	ErrPriceExceededLimit        = errors.New("price_exceeded_limit")
	ErrTemporaryPremiumActive    = errors.New("temporary_premium_active")
	ErrRegisterTransactionFailed = errors.New("register_transaction_failed")
	ErrRegistrationInterrupted   = errors.New("registration_interrupted")

	ErrCommitmentNotFound = errors.New("commitment_not_found")
	ErrCommitmentExpired  = errors.New("commitment_expired")
	ErrSignerRequired     = errors.New("signer_required")
)

// Error is returned by every core operation. Pending is set once a commit
// has been submitted, so the caller can finish the registration by hand.
type Error struct {
	Kind    error
	Msg     string
	Err     error
	Pending *schema.PendingCommitment
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Msg != "" {
		msg = e.Msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Pending != nil {
		// never the secret
		msg = fmt.Sprintf("%s (name=%s owner=%s duration=%d commitTx=%s)", msg,
			e.Pending.Name, e.Pending.Owner.Hex(), e.Pending.Duration, e.Pending.CommitTxHash.Hex())
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func (e *Error) withPending(p *schema.PendingCommitment) *Error {
	e.Pending = p
	return e
}

// Kind returns the failure kind name of err, or "" when err is not a core error.
func Kind(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind.Error()
	}
	return ""
}

// Pending returns the pending commitment attached to err, if any.
func Pending(err error) *schema.PendingCommitment {
	var e *Error
	if errors.As(err, &e) {
		return e.Pending
	}
	return nil
}
