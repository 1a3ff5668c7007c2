package fees

import (
	"fmt"
	"os"
	"strconv"
)

// PaymentType selects the fee schedule row applied at escrow creation.
type PaymentType string

const (
	PaymentDeposit   PaymentType = "deposit"
	PaymentMilestone PaymentType = "milestone"
	PaymentFinal     PaymentType = "final"
)

// ValidationError rejects malformed fee inputs before any state change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// ScheduleEntry holds the rate in basis points and the fee bounds in minor units.
type ScheduleEntry struct {
	RateBps int64
	MinFee  int64
	MaxFee  int64
}

// Schedule maps payment types to their fee terms. Read-only after load.
type Schedule map[PaymentType]ScheduleEntry

// Breakdown is the frozen split of a gross amount.
type Breakdown struct {
	PlatformFee int64 `json:"platform_fee"`
	PayeePayout int64 `json:"payee_payout"`
}

// DefaultSchedule returns the platform terms: 5% rate, $0.50 floor, $50.00 cap.
func DefaultSchedule() Schedule {
	return Schedule{
		PaymentDeposit:   {RateBps: 500, MinFee: 50, MaxFee: 5000},
		PaymentMilestone: {RateBps: 500, MinFee: 50, MaxFee: 5000},
		PaymentFinal:     {RateBps: 500, MinFee: 50, MaxFee: 5000},
	}
}

// ScheduleFromEnv loads fee terms, falling back to defaults per value.
// FEE_RATE_BPS, FEE_MIN, FEE_MAX apply to all payment types.
func ScheduleFromEnv() Schedule {
	s := DefaultSchedule()
	rate := envInt64("FEE_RATE_BPS", 0)
	min := envInt64("FEE_MIN", 0)
	max := envInt64("FEE_MAX", 0)
	if rate == 0 && min == 0 && max == 0 {
		return s
	}
	for pt, entry := range s {
		if rate > 0 {
			entry.RateBps = rate
		}
		if min > 0 {
			entry.MinFee = min
		}
		if max > 0 {
			entry.MaxFee = max
		}
		s[pt] = entry
	}
	return s
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

// Compute splits a gross amount into platform fee and payee payout.
// Deterministic, no I/O. The fee is round(gross*rate) clamped to the
// schedule bounds, and never exceeds the gross amount itself, so
// PlatformFee + PayeePayout == gross always holds with a non-negative payout.
func (s Schedule) Compute(gross int64, pt PaymentType) (Breakdown, error) {
	if gross < 0 {
		return Breakdown{}, &ValidationError{Field: "gross_amount", Reason: "must not be negative"}
	}
	entry, ok := s[pt]
	if !ok {
		return Breakdown{}, &ValidationError{Field: "payment_type", Reason: fmt.Sprintf("unrecognized type %q", pt)}
	}

	// round half up on the basis-point product
	fee := (gross*entry.RateBps + 5000) / 10000

	if fee < entry.MinFee {
		fee = entry.MinFee
	}
	if fee > entry.MaxFee {
		fee = entry.MaxFee
	}
	if fee > gross {
		fee = gross
	}

	return Breakdown{PlatformFee: fee, PayeePayout: gross - fee}, nil
}

// ValidType reports whether pt is one of the closed set of payment types.
func ValidType(pt PaymentType) bool {
	switch pt {
	case PaymentDeposit, PaymentMilestone, PaymentFinal:
		return true
	}
	return false
}
