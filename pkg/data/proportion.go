package data

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Proportion is an exact, reduced non-negative ratio. The zero value is 0/1.
// Values are immutable once built.
type Proportion struct {
	num *big.Int
	den *big.Int
}

// NewProportion builds num/den in lowest terms. A zero denominator yields 0.
func NewProportion(num, den *big.Int) Proportion {
	if den == nil || den.Sign() == 0 || num == nil || num.Sign() == 0 {
		return Proportion{}
	}
	n := new(big.Int).Abs(num)
	d := new(big.Int).Abs(den)
	g := new(big.Int).GCD(nil, nil, n, d)
	if g.Cmp(big.NewInt(1)) != 0 {
		n.Quo(n, g)
		d.Quo(d, g)
	}
	return Proportion{num: n, den: d}
}

// ProportionOf returns part/whole.
func ProportionOf(part, whole Balance) Proportion {
	return NewProportion(part.Big(), whole.Big())
}

// WholeProportion is 1/1.
func WholeProportion() Proportion {
	return Proportion{num: big.NewInt(1), den: big.NewInt(1)}
}

func (p Proportion) Num() *big.Int {
	if p.num == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(p.num)
}

func (p Proportion) Den() *big.Int {
	if p.den == nil {
		return big.NewInt(1)
	}
	return new(big.Int).Set(p.den)
}

func (p Proportion) Rat() *big.Rat {
	return new(big.Rat).SetFrac(p.Num(), p.Den())
}

func (p Proportion) IsZero() bool { return p.num == nil || p.num.Sign() == 0 }

func (p Proportion) Equal(o Proportion) bool {
	return p.Num().Cmp(o.Num()) == 0 && p.Den().Cmp(o.Den()) == 0
}

// Float64 is for display only.
func (p Proportion) Float64() float64 {
	f, _ := p.Rat().Float64()
	return f
}

func (p Proportion) String() string {
	return p.Num().String() + "/" + p.Den().String()
}

// ParseProportion parses "n/d" or a bare integer.
func ParseProportion(s string) (Proportion, error) {
	numStr, denStr, found := strings.Cut(s, "/")
	if !found {
		denStr = "1"
	}
	num, ok := new(big.Int).SetString(strings.TrimSpace(numStr), 10)
	if !ok || num.Sign() < 0 {
		return Proportion{}, &InvalidDataError{Message: fmt.Sprintf("invalid proportion %q", s)}
	}
	den, ok := new(big.Int).SetString(strings.TrimSpace(denStr), 10)
	if !ok || den.Sign() <= 0 {
		return Proportion{}, &InvalidDataError{Message: fmt.Sprintf("invalid proportion %q", s)}
	}
	return NewProportion(num, den), nil
}

func (p Proportion) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(p.String())), nil
}

func (p *Proportion) UnmarshalJSON(raw []byte) error {
	s, err := strconv.Unquote(string(raw))
	if err != nil {
		return &InvalidDataError{Message: fmt.Sprintf("invalid proportion %s", raw)}
	}
	parsed, err := ParseProportion(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// SumProportions returns the exact sum of ps.
func SumProportions(ps ...Proportion) *big.Rat {
	total := new(big.Rat)
	for _, p := range ps {
		total.Add(total, p.Rat())
	}
	return total
}
