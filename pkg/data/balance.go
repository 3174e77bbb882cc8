package data

import (
	"bytes"
	"fmt"
	"math/big"
	"strconv"

	"github.com/holiman/uint256"
)

// maxStakeBits bounds every stake read from input. Sums are carried in the
// full 256 bits of the underlying integer.
const maxStakeBits = 128

// Balance is an unsigned token amount in the chain's smallest unit.
type Balance struct {
	v uint256.Int
}

// NewBalance creates a Balance from a uint64.
func NewBalance(v uint64) Balance {
	var b Balance
	b.v.SetUint64(v)
	return b
}

// ParseBalance parses a base-10 amount.
func ParseBalance(s string) (Balance, error) {
	var b Balance
	if s == "" {
		return b, &InvalidDataError{Message: "empty balance"}
	}
	if err := b.v.SetFromDecimal(s); err != nil {
		return Balance{}, &InvalidDataError{Message: fmt.Sprintf("invalid balance %q: %v", s, err)}
	}
	return b, nil
}

// MustParseBalance is ParseBalance for constants and tests.
func MustParseBalance(s string) Balance {
	b, err := ParseBalance(s)
	if err != nil {
		panic(err)
	}
	return b
}

// BalanceFromBig converts a non-negative big integer of at most 256 bits.
func BalanceFromBig(x *big.Int) (Balance, error) {
	var b Balance
	if x.Sign() < 0 {
		return b, &InvalidDataError{Message: fmt.Sprintf("negative balance %s", x)}
	}
	if overflow := b.v.SetFromBig(x); overflow {
		return Balance{}, &InvalidDataError{Message: fmt.Sprintf("balance %s exceeds 256 bits", x)}
	}
	return b, nil
}

// Add returns b+o. It panics if the sum does not fit in 256 bits, which
// cannot happen for sums of 128-bit stakes.
func (b Balance) Add(o Balance) Balance {
	var r Balance
	if _, overflow := r.v.AddOverflow(&b.v, &o.v); overflow {
		panic("data: balance overflow")
	}
	return r
}

// Sub returns b-o. It panics when o > b.
func (b Balance) Sub(o Balance) Balance {
	var r Balance
	if _, underflow := r.v.SubOverflow(&b.v, &o.v); underflow {
		panic("data: balance underflow")
	}
	return r
}

// SaturatingSub returns b-o, or zero when o > b.
func (b Balance) SaturatingSub(o Balance) Balance {
	if b.Cmp(o) <= 0 {
		return Balance{}
	}
	return b.Sub(o)
}

// DivUint64 returns floor(b/n). Division by zero yields zero.
func (b Balance) DivUint64(n uint64) Balance {
	var r Balance
	r.v.Div(&b.v, uint256.NewInt(n))
	return r
}

func (b Balance) Cmp(o Balance) int { return b.v.Cmp(&o.v) }

func (b Balance) Equal(o Balance) bool { return b.v.Eq(&o.v) }

func (b Balance) IsZero() bool { return b.v.IsZero() }

// FitsStake reports whether b is a valid input stake (at most 128 bits).
func (b Balance) FitsStake() bool { return b.v.BitLen() <= maxStakeBits }

// Big returns a fresh big.Int holding b.
func (b Balance) Big() *big.Int { return b.v.ToBig() }

func (b Balance) String() string { return b.v.Dec() }

// MarshalJSON encodes the balance as a decimal string so that values above
// 2^53 survive generic JSON tooling.
func (b Balance) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(b.v.Dec())), nil
}

// UnmarshalJSON accepts a decimal string or a bare JSON number.
func (b *Balance) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		*b = Balance{}
		return nil
	}
	s := string(raw)
	if len(raw) > 0 && raw[0] == '"' {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return &InvalidDataError{Message: fmt.Sprintf("invalid balance %s", s)}
		}
		s = unquoted
	}
	parsed, err := ParseBalance(s)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}
