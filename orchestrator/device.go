// Package orchestrator drives the device state machine:
// boot → (setup | authenticate) → idle → load → review → sign → output.
// It depends only on the four abstract hardware contracts plus the
// sandbox, signspec, signable, and display packages — never a concrete
// driver — so the same state machine runs unchanged against the
// in-process fakes used in tests and a future real chip.
package orchestrator

import (
	"context"
	"crypto/subtle"

	"cosmossdk.io/log"

	"github.com/paolino/air-gap-signer/crypto"
	"github.com/paolino/air-gap-signer/deviceerr"
	"github.com/paolino/air-gap-signer/display"
	"github.com/paolino/air-gap-signer/hardware"
	"github.com/paolino/air-gap-signer/sandbox"
	"github.com/paolino/air-gap-signer/signable"
	"github.com/paolino/air-gap-signer/signspec"
)

// State is one node of the device state machine.
type State string

const (
	Boot                    State = "Boot"
	SetupPinEntry           State = "SetupPinEntry"
	SetupPinConfirm         State = "SetupPinConfirm"
	SetupPrivateStorageWait State = "SetupPrivateStorageWait"
	SetupRecoverOrGenerate  State = "SetupRecoverOrGenerate"
	SetupPublicStorageWait  State = "SetupPublicStorageWait"
	Authenticate            State = "Authenticate"
	Idle                    State = "Idle"
	Loading                 State = "Loading"
	Review                  State = "Review"
	Signing                 State = "Signing"
	Emitting                State = "Emitting"
	Done                    State = "Done"
	LockedOut               State = "LockedOut"
	Fatal                   State = "Fatal"
)

// allStates is the closed set validateTransitions checks the handler
// table against at construction.
var allStates = []State{
	Boot, SetupPinEntry, SetupPinConfirm, SetupPrivateStorageWait,
	SetupRecoverOrGenerate, SetupPublicStorageWait, Authenticate, Idle,
	Loading, Review, Signing, Emitting, Done, LockedOut, Fatal,
}

func isTerminal(s State) bool {
	return s == LockedOut || s == Fatal
}

// Event is the one piece of external input a handler may need: a
// button activation or a storage-insertion signal. Exactly one of
// HasButton or StorageReady is set by awaitEvent, depending on which
// collaborator the current state blocks on; states that need neither
// (Boot, SetupRecoverOrGenerate, Loading, Signing, Emitting, Done)
// receive a zero Event.
type Event struct {
	Button       hardware.ButtonEvent
	HasButton    bool
	StorageReady bool
}

// handler computes the next state from the current one and the event
// that woke it. A non-nil error is an unexpected, non-recoverable
// failure; Run maps it to Fatal. Expected failures (wrong PIN, user
// reject, spec decode failure) are encoded as an ordinary returned
// State with a nil error.
type handler func(*Device, Event) (State, error)

// keySlot is the only key slot this device provisions: a single
// seed/pubkey pair, so one slot is all the provisioning flow ever
// needs.
const keySlot = "0"

// provisioningAlgorithm is the algorithm a key slot is generated or
// imported with during initial provisioning. The signing-spec's own
// Algorithm field only matters once a cycle begins; at provisioning
// time there is no spec yet to read it from, so the device commits to
// one algorithm up front. Ed25519 is chosen as the default: it is the
// cheapest of the three to generate and verify, and every slot's bound
// algorithm is discoverable later via the slot's own stored metadata.
const provisioningAlgorithm = crypto.Ed25519

// Device holds the orchestrator's full state: the hardware collaborators,
// the transition table, the current State, and the in-memory fields that
// live for exactly one signing cycle or one provisioning flow.
type Device struct {
	display hardware.Display
	buttons hardware.Buttons
	storage hardware.Storage
	se      hardware.SecureElement
	sandbox sandbox.Runtime
	log     log.Logger

	transitions map[State]handler
	state       State

	runCtx context.Context

	pinStaging []byte
	pinFirst   []byte

	recoveredSeed []byte
	seedPresent   bool

	payload           []byte
	interpreterModule []byte
	spec              signspec.Spec
	reviewLines       []display.Line
	scrollOffset      int
	signature         []byte

	fatalMessage string
}

// NewDevice builds a Device with the standard transition table,
// validated once here rather than on every Run call.
func NewDevice(disp hardware.Display, buttons hardware.Buttons, storage hardware.Storage, se hardware.SecureElement, sbox sandbox.Runtime, logger log.Logger) (*Device, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	d := &Device{
		display: disp,
		buttons: buttons,
		storage: storage,
		se:      se,
		sandbox: sbox,
		log:     logger,
		state:   Boot,
		runCtx:  context.Background(),
	}
	d.transitions = newTransitionTable()
	if err := validateTransitions(d.transitions); err != nil {
		return nil, err
	}
	return d, nil
}

// State reports the device's current state, mainly for tests and the
// terminal demo.
func (d *Device) State() State { return d.state }

// Run drives the state machine until it reaches a terminal state
// (LockedOut or Fatal) or ctx is cancelled.
func (d *Device) Run(ctx context.Context) error {
	d.runCtx = ctx
	for {
		if isTerminal(d.state) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		ev, err := d.awaitEvent(ctx)
		if err != nil {
			d.log.Error("awaiting event failed", "state", string(d.state), "err", err)
			d.goFatal("a hardware collaborator failed: " + err.Error())
			continue
		}

		h, ok := d.transitions[d.state]
		if !ok {
			// Unreachable given validateTransitions ran at construction,
			// kept as a defensive backstop against a future State added
			// to allStates without a matching case in newTransitionTable.
			d.goFatal("no handler registered for state " + string(d.state))
			continue
		}

		next, err := h(d, ev)
		if err != nil {
			d.log.Error("transition handler failed", "state", string(d.state), "err", err)
			d.goFatal(err.Error())
			continue
		}
		if _, ok := d.transitions[next]; !ok {
			d.goFatal("handler returned undeclared state " + string(next))
			continue
		}

		d.log.Info("transition", "from", string(d.state), "to", string(next))
		d.state = next
	}
}

func (d *Device) goFatal(message string) {
	d.fatalMessage = message
	d.display.ShowMessage([]string{"Fatal error", message})
	d.state = Fatal
}

// awaitEvent blocks on whichever collaborator the current state needs:
// Buttons::wait_event or Storage::wait_insert. States that do their
// work entirely in the handler (Boot, SetupRecoverOrGenerate, Loading,
// Signing, Emitting, Done) need no external wait.
func (d *Device) awaitEvent(ctx context.Context) (Event, error) {
	switch d.state {
	case SetupPinEntry, SetupPinConfirm, Authenticate, Review:
		btn, err := d.buttons.WaitEvent(ctx)
		if err != nil {
			return Event{}, deviceerr.Wrap(deviceerr.StorageIO, "wait for button event", err)
		}
		return Event{Button: btn, HasButton: true}, nil
	case SetupPrivateStorageWait, SetupPublicStorageWait, Idle:
		if err := d.storage.WaitInsert(ctx); err != nil {
			return Event{}, deviceerr.Wrap(deviceerr.StorageIO, "wait for storage insert", err)
		}
		return Event{StorageReady: true}, nil
	default:
		return Event{}, nil
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func appendDigit(buf []byte, ev hardware.ButtonEvent) []byte {
	switch ev {
	case hardware.Up:
		return append(buf, '1')
	case hardware.Down:
		return append(buf, '0')
	default:
		return buf
	}
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
