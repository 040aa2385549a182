package orchestrator

import (
	"fmt"

	"github.com/paolino/air-gap-signer/deviceerr"
	"github.com/paolino/air-gap-signer/display"
	"github.com/paolino/air-gap-signer/hardware"
	"github.com/paolino/air-gap-signer/signable"
	"github.com/paolino/air-gap-signer/signspec"
)

// newTransitionTable builds the map[State]func(*Device, Event) (State, error)
// transition table as a registry validated once before anything can
// run against it, rather than trusting each handler's wiring ad hoc.
func newTransitionTable() map[State]handler {
	return map[State]handler{
		Boot:                    handleBoot,
		SetupPinEntry:           handleSetupPinEntry,
		SetupPinConfirm:         handleSetupPinConfirm,
		SetupPrivateStorageWait: handleSetupPrivateStorageWait,
		SetupRecoverOrGenerate:  handleSetupRecoverOrGenerate,
		SetupPublicStorageWait:  handleSetupPublicStorageWait,
		Authenticate:            handleAuthenticate,
		Idle:                    handleIdle,
		Loading:                 handleLoading,
		Review:                  handleReview,
		Signing:                 handleSigning,
		Emitting:                handleEmitting,
		Done:                    handleDone,
		LockedOut:               handleTerminal,
		Fatal:                   handleTerminal,
	}
}

// validateTransitions checks that every declared state has a handler
// and that the table declares no handler for an undeclared state.
func validateTransitions(t map[State]handler) error {
	declared := make(map[State]bool, len(allStates))
	for _, s := range allStates {
		declared[s] = true
		if t[s] == nil {
			return fmt.Errorf("orchestrator: no handler registered for state %q", s)
		}
	}
	for s := range t {
		if !declared[s] {
			return fmt.Errorf("orchestrator: handler registered for undeclared state %q", s)
		}
	}
	return nil
}

func handleBoot(d *Device, _ Event) (State, error) {
	provisioned, err := d.se.IsProvisioned()
	if err != nil {
		return Fatal, deviceerr.Wrap(deviceerr.SeOther, "check provisioning status", err)
	}
	if !provisioned {
		d.display.ShowMessage([]string{"Set a PIN", "Confirm to continue"})
		return SetupPinEntry, nil
	}
	d.display.ShowMessage([]string{"Enter PIN"})
	return Authenticate, nil
}

func handleSetupPinEntry(d *Device, ev Event) (State, error) {
	if !ev.HasButton {
		return SetupPinEntry, nil
	}
	switch ev.Button {
	case hardware.Up, hardware.Down:
		d.pinStaging = appendDigit(d.pinStaging, ev.Button)
		return SetupPinEntry, nil
	case hardware.Reject:
		zero(d.pinStaging)
		d.pinStaging = nil
		return SetupPinEntry, nil
	case hardware.Confirm:
		if len(d.pinStaging) == 0 {
			d.display.ShowMessage([]string{"PIN cannot be empty"})
			return SetupPinEntry, nil
		}
		d.pinFirst = d.pinStaging
		d.pinStaging = nil
		d.display.ShowMessage([]string{"Confirm PIN"})
		return SetupPinConfirm, nil
	default:
		return SetupPinEntry, nil
	}
}

func handleSetupPinConfirm(d *Device, ev Event) (State, error) {
	if !ev.HasButton {
		return SetupPinConfirm, nil
	}
	switch ev.Button {
	case hardware.Up, hardware.Down:
		d.pinStaging = appendDigit(d.pinStaging, ev.Button)
		return SetupPinConfirm, nil
	case hardware.Reject:
		zero(d.pinFirst)
		zero(d.pinStaging)
		d.pinFirst, d.pinStaging = nil, nil
		d.display.ShowMessage([]string{"Set a PIN", "Confirm to continue"})
		return SetupPinEntry, nil
	case hardware.Confirm:
		match := constantTimeEqual(d.pinFirst, d.pinStaging)
		second := d.pinStaging
		d.pinStaging = nil
		if !match {
			zero(d.pinFirst)
			zero(second)
			d.pinFirst = nil
			d.display.ShowMessage([]string{"PINs did not match", "Set a PIN"})
			return SetupPinEntry, nil
		}
		if err := d.se.SetPIN(d.pinFirst); err != nil {
			zero(d.pinFirst)
			zero(second)
			d.pinFirst = nil
			return Fatal, deviceerr.Wrap(deviceerr.SeOther, "set PIN", err)
		}
		zero(d.pinFirst)
		zero(second)
		d.pinFirst = nil
		d.display.ShowMessage([]string{"Insert private storage"})
		return SetupPrivateStorageWait, nil
	default:
		return SetupPinConfirm, nil
	}
}

// handleSetupPrivateStorageWait mounts the just-inserted private
// storage read-only and records whether a prior seed backup exists,
// leaving the recover-vs-generate decision itself to
// handleSetupRecoverOrGenerate.
func handleSetupPrivateStorageWait(d *Device, _ Event) (State, error) {
	if err := d.storage.MountReadonly(); err != nil {
		return Fatal, deviceerr.Wrap(deviceerr.StorageIO, "mount private storage read-only", err)
	}
	seed, readErr := d.storage.Read("seed.bin")
	d.seedPresent = readErr == nil
	d.recoveredSeed = seed
	if err := d.storage.Unmount(); err != nil {
		zero(d.recoveredSeed)
		d.recoveredSeed = nil
		return Fatal, deviceerr.Wrap(deviceerr.StorageIO, "unmount private storage", err)
	}
	return SetupRecoverOrGenerate, nil
}

// handleSetupRecoverOrGenerate is the one place a signing key's raw
// seed is ever written outside the secure element: on a miss it
// generates the key in the secure element and writes a one-time
// plaintext backup to private storage; on a hit it imports the
// recovered seed instead of generating a new key.
func handleSetupRecoverOrGenerate(d *Device, _ Event) (State, error) {
	seed, present := d.recoveredSeed, d.seedPresent
	d.recoveredSeed = nil

	if present {
		if _, err := d.se.ImportKey(keySlot, string(provisioningAlgorithm), seed); err != nil {
			zero(seed)
			return Fatal, deviceerr.Wrap(deviceerr.SeOther, "import recovered seed", err)
		}
		zero(seed)
		d.display.ShowMessage([]string{"Insert public storage"})
		return SetupPublicStorageWait, nil
	}

	if _, err := d.se.GenerateKey(keySlot, string(provisioningAlgorithm)); err != nil {
		return Fatal, deviceerr.Wrap(deviceerr.SeOther, "generate key", err)
	}
	newSeed, err := d.se.ExportSeed(keySlot)
	if err != nil {
		return Fatal, deviceerr.Wrap(deviceerr.SeOther, "export seed for backup", err)
	}
	if err := d.storage.MountReadwrite(); err != nil {
		zero(newSeed)
		return Fatal, deviceerr.Wrap(deviceerr.StorageIO, "mount private storage read-write", err)
	}
	writeErr := d.storage.Write("seed.bin", newSeed)
	zero(newSeed)
	if writeErr != nil {
		return Fatal, deviceerr.Wrap(deviceerr.StorageIO, "write seed backup", writeErr)
	}
	if err := d.storage.Unmount(); err != nil {
		return Fatal, deviceerr.Wrap(deviceerr.StorageIO, "unmount private storage", err)
	}

	d.display.ShowMessage([]string{"Insert public storage"})
	return SetupPublicStorageWait, nil
}

func handleSetupPublicStorageWait(d *Device, _ Event) (State, error) {
	pub, err := d.se.PublicKey(keySlot)
	if err != nil {
		return Fatal, deviceerr.Wrap(deviceerr.SeOther, "read public key", err)
	}
	if err := d.storage.MountReadwrite(); err != nil {
		return Fatal, deviceerr.Wrap(deviceerr.StorageIO, "mount public storage read-write", err)
	}
	writeErr := d.storage.Write("pubkey.bin", pub)
	if writeErr != nil {
		return Fatal, deviceerr.Wrap(deviceerr.StorageIO, "write public key", writeErr)
	}
	if err := d.storage.Unmount(); err != nil {
		return Fatal, deviceerr.Wrap(deviceerr.StorageIO, "unmount public storage", err)
	}
	d.display.ShowMessage([]string{"Enter PIN"})
	return Authenticate, nil
}

func handleAuthenticate(d *Device, ev Event) (State, error) {
	if !ev.HasButton {
		return Authenticate, nil
	}
	switch ev.Button {
	case hardware.Up, hardware.Down:
		d.pinStaging = appendDigit(d.pinStaging, ev.Button)
		return Authenticate, nil
	case hardware.Reject:
		zero(d.pinStaging)
		d.pinStaging = nil
		return Authenticate, nil
	case hardware.Confirm:
		pin := d.pinStaging
		d.pinStaging = nil
		err := d.se.VerifyPIN(pin)
		zero(pin)
		if err == nil {
			d.display.Clear()
			return Idle, nil
		}
		kind, ok := deviceerr.Of(err)
		switch {
		case ok && kind == deviceerr.SeLockedOut:
			d.display.ShowMessage([]string{"Device locked out"})
			return LockedOut, nil
		case ok && kind == deviceerr.SeAuth:
			d.display.ShowMessage([]string{"Wrong PIN", "Enter PIN"})
			return Authenticate, nil
		default:
			return Fatal, deviceerr.Wrap(deviceerr.SeOther, "verify PIN", err)
		}
	default:
		return Authenticate, nil
	}
}

func handleIdle(d *Device, _ Event) (State, error) {
	d.display.ShowMessage([]string{"Insert storage to sign"})
	return Loading, nil
}

func handleLoading(d *Device, _ Event) (State, error) {
	if err := d.storage.MountReadonly(); err != nil {
		return Fatal, deviceerr.Wrap(deviceerr.StorageIO, "mount storage read-only", err)
	}

	payload, err := d.storage.Read("payload.bin")
	if err != nil {
		d.storage.Unmount()
		return rejectCycle(d, deviceerr.Wrap(deviceerr.StorageIO, "read payload", err))
	}
	module, err := d.storage.Read("interpreter.wasm")
	if err != nil {
		d.storage.Unmount()
		return rejectCycle(d, deviceerr.Wrap(deviceerr.StorageIO, "read interpreter module", err))
	}
	specBytes, err := d.storage.Read("sign.cbor")
	if err != nil {
		d.storage.Unmount()
		return rejectCycle(d, deviceerr.Wrap(deviceerr.StorageIO, "read signing spec", err))
	}
	if err := d.storage.Unmount(); err != nil {
		return Fatal, deviceerr.Wrap(deviceerr.StorageIO, "unmount storage", err)
	}

	spec, err := signspec.Decode(specBytes)
	if err != nil {
		return rejectCycle(d, err)
	}
	if err := spec.ValidateBasic(); err != nil {
		return rejectCycle(d, err)
	}

	reviewJSON, err := d.sandbox.Interpret(d.runCtx, module, payload)
	if err != nil {
		return rejectCycle(d, err)
	}
	doc, err := display.ParseBytes(reviewJSON)
	if err != nil {
		return rejectCycle(d, err)
	}

	d.payload = payload
	d.interpreterModule = module
	d.spec = spec
	d.reviewLines = display.Flatten(doc, reviewWidth)
	d.scrollOffset = 0

	d.showReview()
	return Review, nil
}

// rejectCycle implements the "reject cycle, back to Idle" propagation
// rule for the mid-cycle error kinds (SpecDecode, SandboxAbi,
// SandboxExhausted, RangeOutOfBounds, InvalidJSON, StorageIO).
func rejectCycle(d *Device, err error) (State, error) {
	d.log.Info("cycle rejected", "err", err)
	d.display.ShowMessage([]string{"Rejected", err.Error()})
	clearCycle(d)
	return Idle, nil
}

func clearCycle(d *Device) {
	zero(d.payload)
	zero(d.signature)
	d.payload = nil
	d.interpreterModule = nil
	d.spec = signspec.Spec{}
	d.reviewLines = nil
	d.scrollOffset = 0
	d.signature = nil
}

// reviewWidth is the display wrap column used for Review; a real
// device would read this from its Display, which this contract does
// not expose, so it is fixed at a conservative character-cell width.
const reviewWidth = 40

func (d *Device) showReview() {
	lines := make([]string, len(d.reviewLines))
	for i, l := range d.reviewLines {
		lines[i] = l.Text
	}
	d.display.ShowLines(lines, d.scrollOffset)
}

func handleReview(d *Device, ev Event) (State, error) {
	if !ev.HasButton {
		return Review, nil
	}
	switch ev.Button {
	case hardware.Up:
		if d.scrollOffset > 0 {
			d.scrollOffset--
		}
		d.showReview()
		return Review, nil
	case hardware.Down:
		if d.scrollOffset < len(d.reviewLines)-1 {
			d.scrollOffset++
		}
		d.showReview()
		return Review, nil
	case hardware.Reject:
		d.display.ShowMessage([]string{"Rejected"})
		clearCycle(d)
		return Idle, nil
	case hardware.Confirm:
		return Signing, nil
	default:
		return Review, nil
	}
}

func handleSigning(d *Device, _ Event) (State, error) {
	boundAlgorithm, err := d.se.Algorithm(d.spec.KeyID)
	if err != nil {
		return Fatal, deviceerr.Wrap(deviceerr.SeOther, "read key slot algorithm", err)
	}
	if boundAlgorithm != string(d.spec.Algorithm) {
		return rejectCycle(d, deviceerr.New(deviceerr.SpecDecode, "signing spec algorithm does not match the key slot's bound algorithm"))
	}

	toSign, err := signable.Extract(d.payload, d.spec.Signable)
	if err != nil {
		return rejectCycle(d, err)
	}
	sig, err := d.se.Sign(d.spec.KeyID, toSign)
	zero(toSign)
	if err != nil {
		kind, ok := deviceerr.Of(err)
		if ok && kind == deviceerr.SeLockedOut {
			return LockedOut, nil
		}
		return Fatal, deviceerr.Wrap(deviceerr.SeOther, "sign", err)
	}
	d.signature = sig
	return Emitting, nil
}

func handleEmitting(d *Device, _ Event) (State, error) {
	out, err := computeOutput(d.runCtx, d.sandbox, d.spec.Output, d.payload, d.signature, d.interpreterModule)
	if err != nil {
		return Fatal, err
	}

	if err := d.storage.MountReadwrite(); err != nil {
		return Fatal, deviceerr.Wrap(deviceerr.StorageIO, "mount storage read-write", err)
	}
	writeErr := d.storage.Write("signed.bin", out)
	unmountErr := d.storage.Unmount()
	clearCycle(d)
	if writeErr != nil {
		return Fatal, deviceerr.Wrap(deviceerr.StorageIO, "write signed output", writeErr)
	}
	if unmountErr != nil {
		return Fatal, deviceerr.Wrap(deviceerr.StorageIO, "unmount storage", unmountErr)
	}

	d.display.ShowMessage([]string{"Signed", "Remove storage"})
	return Done, nil
}

func handleDone(d *Device, _ Event) (State, error) {
	d.display.ShowMessage([]string{"Insert storage to sign"})
	return Idle, nil
}

// handleTerminal serves LockedOut and Fatal: Run never actually calls a
// handler for a terminal state (it returns first), but the transition
// table still carries an entry for every declared State so
// validateTransitions has something to check.
func handleTerminal(d *Device, _ Event) (State, error) {
	return d.state, nil
}
