package voucher

import (
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"
)

// PaymentType selects how a voucher pays out.
type PaymentType uint8

const (
	// Static vouchers pay the whole deposit once.
	Static PaymentType = iota
	// Linear vouchers unlock the deposit second by second until expiry.
	Linear
)

func (p PaymentType) String() string {
	switch p {
	case Static:
		return "static"
	case Linear:
		return "linear"
	default:
		return "unknown"
	}
}

// ParsePaymentType accepts the lowercase wire names.
func ParsePaymentType(s string) (PaymentType, error) {
	switch s {
	case "static", "":
		return Static, nil
	case "linear":
		return Linear, nil
	default:
		return 0, fmt.Errorf("%w: unknown payment type %q", ErrValidation, s)
	}
}

func (p PaymentType) MarshalText() ([]byte, error) {
	if p != Static && p != Linear {
		return nil, fmt.Errorf("invalid payment type %d", p)
	}
	return []byte(p.String()), nil
}

func (p *PaymentType) UnmarshalText(b []byte) error {
	v, err := ParsePaymentType(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Voucher is one escrowed, hash-locked claim held in an owner's collection.
// Amounts are stored by value so copying a Voucher never aliases balances.
type Voucher struct {
	ID              string
	PaymentType     PaymentType
	DepositAmount   uint256.Int
	PaidAmount      uint256.Int
	CreateTimestamp int64  // unix nanoseconds
	ExpireTimestamp *int64 // unix nanoseconds, nil = no deadline
	Commitment      string
	UsedBy          *string
}

// Remaining returns DepositAmount - PaidAmount.
func (v *Voucher) Remaining() *uint256.Int {
	return new(uint256.Int).Sub(&v.DepositAmount, &v.PaidAmount)
}

// Unclaimed reports whether nobody has redeemed the voucher yet.
func (v *Voucher) Unclaimed() bool { return v.UsedBy == nil }

// FullyClaimed reports whether the whole deposit has been paid out.
func (v *Voucher) FullyClaimed() bool { return v.PaidAmount.Eq(&v.DepositAmount) }

// Clone returns a copy that shares no pointers with v.
func (v Voucher) Clone() Voucher {
	if v.ExpireTimestamp != nil {
		exp := *v.ExpireTimestamp
		v.ExpireTimestamp = &exp
	}
	if v.UsedBy != nil {
		by := *v.UsedBy
		v.UsedBy = &by
	}
	return v
}

// Redacted returns a copy with the commitment removed, for the query surface.
func (v Voucher) Redacted() Voucher {
	c := v.Clone()
	c.Commitment = ""
	return c
}

// wireVoucher is the JSON layout shared by the Redis store, the HTTP API and
// the payout queue. Amounts travel as decimal strings.
type wireVoucher struct {
	ID              string      `json:"id"`
	PaymentType     PaymentType `json:"payment_type"`
	DepositAmount   string      `json:"deposit_amount"`
	PaidAmount      string      `json:"paid_amount"`
	CreateTimestamp int64       `json:"create_timestamp"`
	ExpireTimestamp *int64      `json:"expire_timestamp,omitempty"`
	Commitment      string      `json:"commitment,omitempty"`
	UsedBy          *string     `json:"used_by,omitempty"`
}

func (v Voucher) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireVoucher{
		ID:              v.ID,
		PaymentType:     v.PaymentType,
		DepositAmount:   v.DepositAmount.Dec(),
		PaidAmount:      v.PaidAmount.Dec(),
		CreateTimestamp: v.CreateTimestamp,
		ExpireTimestamp: v.ExpireTimestamp,
		Commitment:      v.Commitment,
		UsedBy:          v.UsedBy,
	})
}

func (v *Voucher) UnmarshalJSON(b []byte) error {
	var w wireVoucher
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	deposit, err := ParseAmount(w.DepositAmount)
	if err != nil {
		return fmt.Errorf("deposit_amount: %w", err)
	}
	paid, err := ParseAmount(w.PaidAmount)
	if err != nil {
		return fmt.Errorf("paid_amount: %w", err)
	}
	*v = Voucher{
		ID:              w.ID,
		PaymentType:     w.PaymentType,
		DepositAmount:   *deposit,
		PaidAmount:      *paid,
		CreateTimestamp: w.CreateTimestamp,
		ExpireTimestamp: w.ExpireTimestamp,
		Commitment:      w.Commitment,
		UsedBy:          w.UsedBy,
	}
	return nil
}

// ParseAmount parses a base-10 amount that must fit in 128 bits.
func ParseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty amount", ErrValidation)
	}
	a, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q: %v", ErrValidation, s, err)
	}
	if a.BitLen() > AmountBits {
		return nil, fmt.Errorf("%w: amount %s exceeds %d bits", ErrValidation, s, AmountBits)
	}
	return a, nil
}
