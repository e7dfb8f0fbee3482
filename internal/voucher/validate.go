package voucher

import (
	"fmt"
	"strings"
)

const (
	// IDLen is the exact length of a voucher id.
	IDLen = 12
	// AmountBits bounds every amount the ledger stores.
	AmountBits = 128
)

// ValidateID checks the fixed id length.
func ValidateID(id string) error {
	if len(id) != IDLen {
		return fmt.Errorf("%w: id %q must be %d characters, got %d", ErrValidation, id, IDLen, len(id))
	}
	return nil
}

// NormalizeCommitment validates a hex digest and returns it lowercased.
func NormalizeCommitment(c string) (string, error) {
	if !ValidCommitment(c) {
		return "", fmt.Errorf("%w: commitment must be %d hex characters, got %q", ErrValidation, CommitmentLen, c)
	}
	return strings.ToLower(c), nil
}
