// Package callback encodes the inline-button payloads of the fleet UI.
//
// Every fleet button shares one telebot unique key; the payload is a typed
// token decoded once at the boundary and dispatched with a switch.
package callback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Unique is the telebot callback key of all fleet buttons.
const Unique = "fleet"

// Op is the button operation.
type Op string

const (
	OpToggle  Op = "t" // toggle account at Index
	OpPage    Op = "p" // show page Index
	OpAll     Op = "a" // select every candidate
	OpProceed Op = "n" // finish account selection
	OpConfirm Op = "y" // confirm the plan
	OpCancel  Op = "x" // cancel the flow
	OpChoice  Op = "c" // pick Value in a choice step
	OpBack    Op = "b" // return to account selection
	OpStop    Op = "s" // stop the running bulk run
	OpPurge   Op = "r" // remove the operator's inactive accounts
	OpNoop    Op = "_" // page counter and other inert buttons
)

// ErrMalformed is returned for payloads that do not decode into a token.
var ErrMalformed = errors.New("callback: malformed token")

// Token is one decoded button press.
type Token struct {
	Op    Op
	Index int
	Value string
}

// Toggle returns a token toggling the candidate at index.
func Toggle(index int) Token { return Token{Op: OpToggle, Index: index} }

// Page returns a token switching to page.
func Page(page int) Token { return Token{Op: OpPage, Index: page} }

// Choice returns a token picking value.
func Choice(value string) Token { return Token{Op: OpChoice, Value: value} }

// Of returns a token without arguments.
func Of(op Op) Token { return Token{Op: op} }

// Encode renders the token as a callback payload. The result stays well
// below the 64 byte callback data limit for the values the UI uses.
func (t Token) Encode() string {
	switch t.Op {
	case OpToggle, OpPage:
		return string(t.Op) + ":" + strconv.Itoa(t.Index)
	case OpChoice:
		return string(t.Op) + ":" + t.Value
	default:
		return string(t.Op)
	}
}

func (t Token) String() string { return t.Encode() }

// Decode parses a payload produced by Encode.
func Decode(payload string) (Token, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return Token{}, ErrMalformed
	}
	op, arg, hasArg := strings.Cut(payload, ":")
	switch Op(op) {
	case OpToggle, OpPage:
		if !hasArg {
			return Token{}, fmt.Errorf("%w: %q needs an index", ErrMalformed, payload)
		}
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 {
			return Token{}, fmt.Errorf("%w: bad index in %q", ErrMalformed, payload)
		}
		return Token{Op: Op(op), Index: n}, nil
	case OpChoice:
		if !hasArg || arg == "" {
			return Token{}, fmt.Errorf("%w: %q needs a value", ErrMalformed, payload)
		}
		return Token{Op: OpChoice, Value: arg}, nil
	case OpAll, OpProceed, OpConfirm, OpCancel, OpBack, OpStop, OpPurge, OpNoop:
		if hasArg {
			return Token{}, fmt.Errorf("%w: unexpected argument in %q", ErrMalformed, payload)
		}
		return Token{Op: Op(op)}, nil
	}
	return Token{}, fmt.Errorf("%w: unknown op %q", ErrMalformed, op)
}
