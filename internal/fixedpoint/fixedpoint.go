// Package fixedpoint provides checked integer arithmetic for financial ratios.
//
// Intermediate values are held in 256 bits so that products of several
// 64-bit operands never wrap. A calculation fails with
// fault.ErrArithmeticError on division by zero, on subtraction below zero,
// or when the final value does not fit in 64 bits.
package fixedpoint

import (
	"github.com/holiman/uint256"

	"github.com/sells-group/shield/internal/fault"
)

// BasisPoints is the denominator for basis-point quantities.
const BasisPoints = 10_000

// Calc is a chained calculation. The first failing step is sticky.
type Calc struct {
	v   uint256.Int
	err error
}

// From starts a calculation at v.
func From(v uint64) *Calc {
	c := &Calc{}
	c.v.SetUint64(v)
	return c
}

// Mul multiplies the running value by x.
func (c *Calc) Mul(x uint64) *Calc {
	if c.err != nil {
		return c
	}
	var y uint256.Int
	y.SetUint64(x)
	if _, overflow := c.v.MulOverflow(&c.v, &y); overflow {
		c.err = fault.ErrArithmeticError.With("multiply overflow")
	}
	return c
}

// Div divides the running value by x, truncating.
func (c *Calc) Div(x uint64) *Calc {
	if c.err != nil {
		return c
	}
	if x == 0 {
		c.err = fault.ErrArithmeticError.With("division by zero")
		return c
	}
	var y uint256.Int
	y.SetUint64(x)
	c.v.Div(&c.v, &y)
	return c
}

// Add adds x to the running value.
func (c *Calc) Add(x uint64) *Calc {
	if c.err != nil {
		return c
	}
	var y uint256.Int
	y.SetUint64(x)
	if _, overflow := c.v.AddOverflow(&c.v, &y); overflow {
		c.err = fault.ErrArithmeticError.With("add overflow")
	}
	return c
}

// Sub subtracts x from the running value.
func (c *Calc) Sub(x uint64) *Calc {
	if c.err != nil {
		return c
	}
	var y uint256.Int
	y.SetUint64(x)
	if c.v.Lt(&y) {
		c.err = fault.ErrArithmeticError.With("subtraction underflow")
		return c
	}
	c.v.Sub(&c.v, &y)
	return c
}

// Uint64 returns the result, or an error if any step failed or the value
// exceeds 64 bits.
func (c *Calc) Uint64() (uint64, error) {
	if c.err != nil {
		return 0, c.err
	}
	if !c.v.IsUint64() {
		return 0, fault.ErrArithmeticError.With("result exceeds 64 bits")
	}
	return c.v.Uint64(), nil
}

// MulDiv returns a*b/d.
func MulDiv(a, b, d uint64) (uint64, error) {
	return From(a).Mul(b).Div(d).Uint64()
}

// Percent returns v*pct/100.
func Percent(v, pct uint64) (uint64, error) {
	return MulDiv(v, pct, 100)
}

// Add returns a+b.
func Add(a, b uint64) (uint64, error) {
	s := a + b
	if s < a {
		return 0, fault.ErrArithmeticError.With("add overflow")
	}
	return s, nil
}

// Sub returns a-b.
func Sub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, fault.ErrArithmeticError.With("subtraction underflow")
	}
	return a - b, nil
}

// SaturatingSub returns a-b, or 0 when b > a.
func SaturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// Ratio returns num*100/den, or whenZero if den is 0.
func Ratio(num, den, whenZero uint64) (uint64, error) {
	if den == 0 {
		return whenZero, nil
	}
	return MulDiv(num, 100, den)
}
