package protocol

import (
	"fmt"
	"math"
)

// Evaluate computes op(a, b). Results that do not fit in an int32 yield ErrOverflow,
// including MinInt32 / -1. Division truncates toward zero.
func Evaluate(op Operation, a, b int32) (int32, error) {
	x, y := int64(a), int64(b)

	var r int64
	switch op {
	case OpAdd:
		r = x + y
	case OpSub:
		r = x - y
	case OpMul:
		r = x * y
	case OpDiv:
		if y == 0 {
			return 0, ErrDivideByZero
		}
		r = x / y
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownOperation, op)
	}

	if r < math.MinInt32 || r > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s %d %d", ErrOverflow, op, a, b)
	}
	return int32(r), nil
}

// Evaluate computes the request
func (r Request) Evaluate() (int32, error) {
	return Evaluate(r.Op, r.A, r.B)
}
