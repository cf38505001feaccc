package vm

import "fmt"

// TrapReason classifies why execution stopped abnormally. Any trap
// faults the VM; the reasons exist for diagnostics and tests, not for
// recovery.
type TrapReason int

const (
	TrapDivideByZero TrapReason = iota
	TrapStackOverflow
	TrapStackUnderflow
	TrapCallDepthExceeded
	TrapInvalidInstruction
	TrapInvalidConstant
	TrapConstantType
	TrapInvalidVariable
	TrapInvalidLocal
	TrapInvalidFunction
	TrapNegativeExponent
	TrapWatchdogTimeout
)

var trapReasonNames = map[TrapReason]string{
	TrapDivideByZero:       "divide by zero",
	TrapStackOverflow:      "stack overflow",
	TrapStackUnderflow:     "stack underflow",
	TrapCallDepthExceeded:  "call depth exceeded",
	TrapInvalidInstruction: "invalid instruction",
	TrapInvalidConstant:    "invalid constant index",
	TrapConstantType:       "constant type mismatch",
	TrapInvalidVariable:    "invalid variable index",
	TrapInvalidLocal:       "invalid local index",
	TrapInvalidFunction:    "invalid function id",
	TrapNegativeExponent:   "negative exponent",
	TrapWatchdogTimeout:    "watchdog timeout",
}

func (r TrapReason) String() string {
	if n, ok := trapReasonNames[r]; ok {
		return n
	}
	return fmt.Sprintf("TrapReason(%d)", int(r))
}

// Trap is an abnormal termination. Function and Offset locate the
// instruction that trapped; for a watchdog trap they identify the
// scan's entry function.
type Trap struct {
	Reason   TrapReason
	Function uint16
	Offset   uint32
	Detail   string
}

func (t *Trap) Error() string {
	if t.Detail != "" {
		return fmt.Sprintf("trap: %s at fn %d offset %04X (%s)", t.Reason, t.Function, t.Offset, t.Detail)
	}
	return fmt.Sprintf("trap: %s at fn %d offset %04X", t.Reason, t.Function, t.Offset)
}

func trapf(reason TrapReason, fn uint16, offset uint32, format string, args ...any) *Trap {
	return &Trap{Reason: reason, Function: fn, Offset: offset, Detail: fmt.Sprintf(format, args...)}
}
