package orchestrator

import (
	"context"
	"crypto/subtle"
	"sync"

	"github.com/paolino/air-gap-signer/crypto"
	"github.com/paolino/air-gap-signer/deviceerr"
	"github.com/paolino/air-gap-signer/hardware"
)

// fakeDisplay records every call for assertions; nothing it does is
// observable outside the test that holds it.
type fakeDisplay struct {
	mu       sync.Mutex
	messages [][]string
	lines    [][]string
}

func (f *fakeDisplay) Clear() {}

func (f *fakeDisplay) ShowMessage(lines []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, append([]string{}, lines...))
}

func (f *fakeDisplay) ShowLines(lines []string, _ int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, append([]string{}, lines...))
}

func (f *fakeDisplay) lastMessage() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return nil
	}
	return f.messages[len(f.messages)-1]
}

// fakeButtons replays a scripted sequence of events, one per WaitEvent call.
type fakeButtons struct {
	mu     sync.Mutex
	events []hardware.ButtonEvent
}

func (f *fakeButtons) WaitEvent(ctx context.Context) (hardware.ButtonEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	ev := f.events[0]
	f.events = f.events[1:]
	return ev, nil
}

// fakeStorage is an in-memory removable volume. insertQueued counts the
// insertions a test has queued; each WaitInsert call consumes one.
type fakeStorage struct {
	mu           sync.Mutex
	files        map[string][]byte
	mounted      bool
	writable     bool
	insertQueued int
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{files: make(map[string][]byte)}
}

func (f *fakeStorage) queueInsert() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertQueued++
}

func (f *fakeStorage) WaitInsert(ctx context.Context) error {
	f.mu.Lock()
	if f.insertQueued > 0 {
		f.insertQueued--
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeStorage) MountReadonly() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mounted, f.writable = true, false
	return nil
}

func (f *fakeStorage) MountReadwrite() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mounted, f.writable = true, true
	return nil
}

func (f *fakeStorage) Unmount() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mounted, f.writable = false, false
	return nil
}

func (f *fakeStorage) Read(name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[name]
	if !ok {
		return nil, deviceerr.New(deviceerr.StorageIO, "no such file: "+name)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (f *fakeStorage) Write(name string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.writable {
		return deviceerr.New(deviceerr.StorageIO, "volume not mounted read-write")
	}
	out := make([]byte, len(data))
	copy(out, data)
	f.files[name] = out
	return nil
}

// fakeSecureElement is an in-process, non-hardware-backed SecureElement
// used only to drive the orchestrator's trust-boundary tests; it is not
// one of the two collaborators package secureelement ships.
type fakeSecureElement struct {
	mu           sync.Mutex
	provisioned  bool
	pin          []byte
	authed       bool
	lockedOut    bool
	attempts      int
	attemptBudget int
	slots         map[string]fakeSlot

	signCalls   []string
	exportCalls []string
	verifyCalls int
}

type fakeSlot struct {
	algorithm string
	seed      []byte
	public    []byte
}

func newFakeSecureElement() *fakeSecureElement {
	return &fakeSecureElement{attemptBudget: 10, slots: make(map[string]fakeSlot)}
}

func (f *fakeSecureElement) IsProvisioned() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.provisioned, nil
}

func (f *fakeSecureElement) SetPIN(pin []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pin = append([]byte{}, pin...)
	f.provisioned = true
	f.authed = true
	return nil
}

func (f *fakeSecureElement) VerifyPIN(pin []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	if f.lockedOut {
		return deviceerr.New(deviceerr.SeLockedOut, "locked out")
	}
	if subtle.ConstantTimeCompare(f.pin, pin) == 1 {
		f.authed = true
		f.attempts = 0
		return nil
	}
	f.attempts++
	if f.attempts >= f.attemptBudget {
		f.lockedOut = true
		return deviceerr.New(deviceerr.SeLockedOut, "attempt budget exhausted")
	}
	return deviceerr.New(deviceerr.SeAuth, "wrong PIN")
}

func (f *fakeSecureElement) GenerateKey(slot string, algorithm string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	signer, err := newSignerForTest(algorithm)
	if err != nil {
		return nil, err
	}
	pub := signer.PublicKey()
	f.slots[slot] = fakeSlot{algorithm: algorithm, seed: signer.Seed(), public: pub}
	return pub, nil
}

func (f *fakeSecureElement) ImportKey(slot string, algorithm string, seed []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	signer, err := signerFromSeedForTest(algorithm, seed)
	if err != nil {
		return nil, err
	}
	pub := signer.PublicKey()
	f.slots[slot] = fakeSlot{algorithm: algorithm, seed: append([]byte{}, seed...), public: pub}
	return pub, nil
}

func (f *fakeSecureElement) ExportSeed(slot string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exportCalls = append(f.exportCalls, slot)
	s, ok := f.slots[slot]
	if !ok {
		return nil, deviceerr.New(deviceerr.SeOther, "no such slot")
	}
	return append([]byte{}, s.seed...), nil
}

func (f *fakeSecureElement) PublicKey(slot string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.slots[slot]
	if !ok {
		return nil, deviceerr.New(deviceerr.SeOther, "no such slot")
	}
	return append([]byte{}, s.public...), nil
}

func (f *fakeSecureElement) Algorithm(slot string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.slots[slot]
	if !ok {
		return "", deviceerr.New(deviceerr.SeOther, "no such slot")
	}
	return s.algorithm, nil
}

func (f *fakeSecureElement) Sign(slot string, digest []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signCalls = append(f.signCalls, slot)
	if !f.authed {
		return nil, deviceerr.New(deviceerr.SeAuth, "not authenticated")
	}
	s, ok := f.slots[slot]
	if !ok {
		return nil, deviceerr.New(deviceerr.SeOther, "no such slot")
	}
	signer, err := signerFromSeedForTest(s.algorithm, s.seed)
	if err != nil {
		return nil, err
	}
	return signer.Sign(digest)
}

// testSigner is the tiny subset of crypto.Signer the fakes need.
type testSigner interface {
	PublicKey() []byte
	Seed() []byte
	Sign(message []byte) ([]byte, error)
}

type ed25519TestSigner struct {
	signer crypto.Signer
	seed   []byte
}

func (s ed25519TestSigner) PublicKey() []byte                   { return s.signer.PublicKey().Bytes() }
func (s ed25519TestSigner) Seed() []byte                        { return s.seed }
func (s ed25519TestSigner) Sign(message []byte) ([]byte, error) { return s.signer.Sign(message) }

func newSignerForTest(algorithm string) (testSigner, error) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	return signerFromSeedForTest(algorithm, seed)
}

func signerFromSeedForTest(algorithm string, seed []byte) (testSigner, error) {
	switch crypto.Algorithm(algorithm) {
	case crypto.Ed25519:
		signer, err := crypto.Ed25519SignerFromSeed(seed)
		if err != nil {
			return nil, err
		}
		return ed25519TestSigner{signer: signer, seed: append([]byte{}, seed...)}, nil
	default:
		return nil, deviceerr.New(deviceerr.SeOther, "unsupported test algorithm "+algorithm)
	}
}
