package otpinput

import (
	"errors"
	"strings"
	"sync"
)

// CodeLength is an exported constant or variable used by the verification flow engine.
const CodeLength = 6

var (
	// ErrIndexOutOfRange is an exported constant or variable used by the verification flow engine.
	ErrIndexOutOfRange = errors.New("otp slot index out of range")
	// ErrMultiCharacterInput is an exported constant or variable used by the verification flow engine.
	ErrMultiCharacterInput = errors.New("otp slot accepts a single character")
	// ErrNonDigitInput is an exported constant or variable used by the verification flow engine.
	ErrNonDigitInput = errors.New("otp slot accepts digits only")
)

// SubmitFunc defines a public type used by recoveryflow APIs.
//
// SubmitFunc receives the joined six-digit code when the buffer completes.
type SubmitFunc func(code string)

// Controller defines a public type used by recoveryflow APIs.
//
// Controller instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Controller struct {
	mu       sync.Mutex
	slots    [CodeLength]string
	focus    int
	armed    bool
	inFlight bool
	onSubmit SubmitFunc
}

// NewController describes the newcontroller operation and its observable behavior.
//
// NewController may return an error when input validation, dependency calls, or security checks fail.
// NewController does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewController(onSubmit SubmitFunc) *Controller {
	return &Controller{
		armed:    true,
		onSubmit: onSubmit,
	}
}

// SetSlot describes the setslot operation and its observable behavior.
//
// SetSlot may return an error when input validation, dependency calls, or security checks fail.
//
// A non-empty write to slot index < 5 advances focus to index+1. Writing the
// final missing digit fires the submit callback exactly once; the controller
// stays un-armed until a verification failure clears the buffer. Pasting a
// multi-character string is rejected wholesale rather than truncated, so the
// buffer never ends up in ambiguous partial state.
func (c *Controller) SetSlot(index int, value string) error {
	if index < 0 || index >= CodeLength {
		return ErrIndexOutOfRange
	}
	if len(value) > 1 {
		return ErrMultiCharacterInput
	}
	if value != "" && (value[0] < '0' || value[0] > '9') {
		return ErrNonDigitInput
	}

	c.mu.Lock()
	c.slots[index] = value

	if value != "" && index < CodeLength-1 {
		c.focus = index + 1
	}

	fire := c.maybeFireLocked()
	c.mu.Unlock()

	if fire != "" && c.onSubmit != nil {
		c.onSubmit(fire)
	}
	return nil
}

// Backspace describes the backspace operation and its observable behavior.
//
// Backspace on an empty slot moves focus to the previous box (no-op at index
// 0). Backspace on a filled slot clears it in place, re-arming auto-submit.
func (c *Controller) Backspace(index int) {
	if index < 0 || index >= CodeLength {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.slots[index] == "" {
		if index > 0 {
			c.focus = index - 1
		}
		return
	}

	c.slots[index] = ""
	c.armed = true
}

// Submit describes the submit operation and its observable behavior.
//
// Submit is the manual path behind the form's button. It is a no-op when the
// buffer is incomplete, when auto-submit has already fired for the current
// buffer state, or while a previous submission is still in flight.
func (c *Controller) Submit() bool {
	c.mu.Lock()
	fire := c.maybeFireLocked()
	c.mu.Unlock()

	if fire == "" {
		return false
	}
	if c.onSubmit != nil {
		c.onSubmit(fire)
	}
	return true
}

// Reject describes the reject operation and its observable behavior.
//
// Reject reports a verification failure: all slots are cleared, focus returns
// to the first box, and auto-submit is re-armed for the next fill.
func (c *Controller) Reject() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.slots = [CodeLength]string{}
	c.focus = 0
	c.armed = true
	c.inFlight = false
}

// Accept describes the accept operation and its observable behavior.
//
// Accept reports a successful verification. The buffer is left intact and the
// controller stays un-armed; the enclosing flow is about to leave code entry.
func (c *Controller) Accept() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inFlight = false
}

// Focus describes the focus operation and its observable behavior.
func (c *Controller) Focus() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.focus
}

// Code describes the code operation and its observable behavior.
//
// Code returns the joined buffer contents, complete or not.
func (c *Controller) Code() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return strings.Join(c.slots[:], "")
}

// Complete describes the complete operation and its observable behavior.
func (c *Controller) Complete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.completeLocked()
}

func (c *Controller) completeLocked() bool {
	for _, slot := range c.slots {
		if slot == "" {
			return false
		}
	}
	return true
}

// maybeFireLocked returns the code to submit when the buffer just transitioned
// to complete and no submission is in flight, consuming the armed state.
func (c *Controller) maybeFireLocked() string {
	if !c.armed || c.inFlight || !c.completeLocked() {
		return ""
	}
	c.armed = false
	c.inFlight = true
	return strings.Join(c.slots[:], "")
}
