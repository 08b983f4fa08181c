package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Protocol constants
const (
	// Discovery datagram payloads
	DiscoverProbe = "CCS DISCOVER"
	DiscoverReply = "CCS FOUND"

	// ErrorToken is written back for every request that cannot be computed
	ErrorToken = "ERROR"

	// Number of space-separated tokens in a request line
	RequestTokens = 3

	// MaxLineLength bounds a request line in bytes, terminator included.
	// The longest valid request ("ADD -2147483648 -2147483648\r\n") is 29 bytes.
	MaxLineLength = 256
)

// Failure kinds surfaced to the client as ErrorToken
var (
	ErrMalformedLine     = errors.New("malformed request line")
	ErrLineTooLong       = errors.New("request line too long")
	ErrNonIntegerOperand = errors.New("operand is not a 32-bit integer")
	ErrUnknownOperation  = errors.New("unknown operation")
	ErrOverflow          = errors.New("integer overflow")
	ErrDivideByZero      = errors.New("division by zero")
)

// Operation is one of the four supported arithmetic operations
type Operation uint8

const (
	OpAdd Operation = iota
	OpSub
	OpMul
	OpDiv
)

// Operations lists every supported operation in wire order
var Operations = [...]Operation{OpAdd, OpSub, OpMul, OpDiv}

var operationNames = [...]string{
	OpAdd: "ADD",
	OpSub: "SUB",
	OpMul: "MUL",
	OpDiv: "DIV",
}

// String returns the wire token of the operation
func (o Operation) String() string {
	if int(o) < len(operationNames) {
		return operationNames[o]
	}
	return fmt.Sprintf("Operation(%d)", uint8(o))
}

// IsValid reports whether o is one of the supported operations
func (o Operation) IsValid() bool {
	return int(o) < len(operationNames)
}

// ParseOperation maps a wire token to an Operation. Tokens are case-sensitive.
func ParseOperation(token string) (Operation, error) {
	for _, op := range Operations {
		if operationNames[op] == token {
			return op, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOperation, token)
}

// Request is a single decoded request line
// Layout: <OP> <int32> <int32>
type Request struct {
	Op Operation
	A  int32
	B  int32
}

// String returns the request in wire format (without the newline)
func (r Request) String() string {
	return fmt.Sprintf("%s %d %d", r.Op, r.A, r.B)
}

// ParseRequest decodes one request line. A trailing "\n" or "\r\n" is ignored.
// Operands are validated before the operation token.
func ParseRequest(line string) (Request, error) {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")

	tokens := strings.Split(line, " ")
	if len(tokens) != RequestTokens {
		return Request{}, fmt.Errorf("%w: expected %d tokens, got %d", ErrMalformedLine, RequestTokens, len(tokens))
	}

	a, err := parseOperand(tokens[1])
	if err != nil {
		return Request{}, err
	}
	b, err := parseOperand(tokens[2])
	if err != nil {
		return Request{}, err
	}

	op, err := ParseOperation(tokens[0])
	if err != nil {
		return Request{}, err
	}

	return Request{Op: op, A: a, B: b}, nil
}

func parseOperand(token string) (int32, error) {
	v, err := strconv.ParseInt(token, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrNonIntegerOperand, token)
	}
	return int32(v), nil
}

// EncodeResult formats a computed value as a response line
func EncodeResult(value int32) string {
	return strconv.FormatInt(int64(value), 10) + "\n"
}

// EncodeError formats the failure response line
func EncodeError() string {
	return ErrorToken + "\n"
}

// Encode formats the response line for an evaluation outcome
func Encode(value int32, err error) string {
	if err != nil {
		return EncodeError()
	}
	return EncodeResult(value)
}

// FailureKind returns a stable label for a protocol failure, used in logs and metrics
func FailureKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrMalformedLine):
		return "malformed_line"
	case errors.Is(err, ErrLineTooLong):
		return "line_too_long"
	case errors.Is(err, ErrNonIntegerOperand):
		return "non_integer_operand"
	case errors.Is(err, ErrUnknownOperation):
		return "unknown_operation"
	case errors.Is(err, ErrOverflow):
		return "overflow"
	case errors.Is(err, ErrDivideByZero):
		return "divide_by_zero"
	default:
		return "unknown"
	}
}

// FailureKinds lists every label FailureKind can return for a protocol failure
var FailureKinds = []string{
	"malformed_line",
	"line_too_long",
	"non_integer_operand",
	"unknown_operation",
	"overflow",
	"divide_by_zero",
}

// IsDiscoverProbe reports whether a datagram payload is exactly the discovery probe
func IsDiscoverProbe(payload []byte) bool {
	return string(payload) == DiscoverProbe
}
