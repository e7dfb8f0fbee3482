package voucher

import "github.com/holiman/uint256"

const nanosPerSecond = int64(1_000_000_000)

// VestingDuration returns the whole number of seconds between create and
// expire. Anything shorter than a second rounds down to zero.
func VestingDuration(create, expire int64) int64 {
	if expire <= create {
		return 0
	}
	return (expire - create) / nanosPerSecond
}

// VestingRate is the per-second unlock of a linear deposit. The floor
// division leaves up to duration-1 units of dust that never unlock.
func VestingRate(deposit *uint256.Int, durationSec int64) *uint256.Int {
	if durationSec <= 0 {
		return new(uint256.Int)
	}
	return new(uint256.Int).Div(deposit, uint256.NewInt(uint64(durationSec)))
}

// ClaimableAmount is what a redemption at now would pay.
//
// Static vouchers expose their remaining balance. Linear vouchers unlock
// rate*elapsed, where elapsed is counted in whole seconds and capped at the
// vesting duration, minus what has already been paid; a negative result is
// reported as zero.
func ClaimableAmount(v Voucher, now int64) *uint256.Int {
	if v.PaymentType == Static {
		return v.Remaining()
	}
	if v.ExpireTimestamp == nil {
		return new(uint256.Int)
	}
	duration := VestingDuration(v.CreateTimestamp, *v.ExpireTimestamp)
	if duration == 0 {
		return new(uint256.Int)
	}
	elapsed := int64(0)
	if now > v.CreateTimestamp {
		elapsed = (now - v.CreateTimestamp) / nanosPerSecond
	}
	if elapsed > duration {
		elapsed = duration
	}
	unlocked := new(uint256.Int).Mul(VestingRate(&v.DepositAmount, duration), uint256.NewInt(uint64(elapsed)))
	if unlocked.Cmp(&v.PaidAmount) <= 0 {
		return new(uint256.Int)
	}
	return unlocked.Sub(unlocked, &v.PaidAmount)
}
