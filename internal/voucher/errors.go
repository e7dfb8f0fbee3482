package voucher

import "errors"

// Lifecycle errors. Callers match them with errors.Is; the wrapped message
// carries the detail.
var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("voucher not found")
	ErrConflict       = errors.New("voucher id already exists")
	ErrVoucherLocked  = errors.New("voucher is partially claimed")
	ErrInvalidSecret  = errors.New("invalid secret")
	ErrNotAuthorized  = errors.New("voucher is bound to another claimant")
	ErrExpired        = errors.New("voucher expired")
	ErrAlreadyUsed    = errors.New("voucher already used")
	ErrNothingToClaim = errors.New("nothing to claim")
)

// Code returns a short machine-readable name for a lifecycle error, or
// "internal" for anything outside the taxonomy.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrVoucherLocked):
		return "voucher_locked"
	case errors.Is(err, ErrInvalidSecret):
		return "invalid_secret"
	case errors.Is(err, ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrAlreadyUsed):
		return "already_used"
	case errors.Is(err, ErrNothingToClaim):
		return "nothing_to_claim"
	default:
		return "internal"
	}
}
