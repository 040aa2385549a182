// Package hardware declares the abstract capability set the device
// orchestrator requires from its environment: a display, a button
// source, removable storage, and a secure element. Concrete
// drivers for real hardware (framebuffer, GPIO, filesystem, I²C) are
// out of scope for this module; package secureelement ships two
// software-backed SecureElement implementations for development and
// CI use.
package hardware

import "context"

// ButtonEvent is one physical button activation.
type ButtonEvent int

const (
	Up ButtonEvent = iota
	Down
	Confirm
	Reject
)

func (e ButtonEvent) String() string {
	switch e {
	case Up:
		return "Up"
	case Down:
		return "Down"
	case Confirm:
		return "Confirm"
	case Reject:
		return "Reject"
	default:
		return "Unknown"
	}
}

// Display shows user-facing text. Every method is idempotent; the last
// call wins regardless of what was shown before it.
type Display interface {
	Clear()
	ShowMessage(lines []string)
	ShowLines(lines []string, scrollOffset int)
}

// Buttons is the single source of user input events. WaitEvent blocks
// until exactly one physical activation occurs; debounce is the
// driver's concern, not the orchestrator's.
type Buttons interface {
	WaitEvent(ctx context.Context) (ButtonEvent, error)
}

// Storage is the removable-media contract. Mount and unmount
// sequencing is part of the contract: callers must not read or write
// outside a matching mount call.
type Storage interface {
	WaitInsert(ctx context.Context) error
	MountReadonly() error
	Read(name string) ([]byte, error)
	Unmount() error
	MountReadwrite() error
	Write(name string, data []byte) error
}

// SecureElement is the tamper-resistant key custodian. Private key
// material never crosses this interface except through ExportSeed,
// which is permitted only during initial provisioning. Sign requires a
// prior successful VerifyPIN in the current session.
type SecureElement interface {
	IsProvisioned() (bool, error)
	SetPIN(pin []byte) error
	VerifyPIN(pin []byte) error
	GenerateKey(slot string, algorithm string) (public []byte, err error)
	ImportKey(slot string, algorithm string, seed []byte) (public []byte, err error)
	ExportSeed(slot string) (seed []byte, err error)
	PublicKey(slot string) (public []byte, err error)
	Algorithm(slot string) (algorithm string, err error)
	Sign(slot string, digest []byte) (signature []byte, err error)
}
