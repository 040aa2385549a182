package secureelement

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/paolino/air-gap-signer/deviceerr"
)

const (
	filePerm = 0600
	dirPerm  = 0700
)

// cipherText is an AES-256-GCM sealed value.
type cipherText struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// fileSlot is one key slot's persisted record. PubKey is not secret and
// is stored in the clear; Seed is sealed under the session's derived
// AES key.
type fileSlot struct {
	Algorithm string     `json:"algorithm"`
	PubKey    []byte     `json:"pub_key"`
	Seed      cipherText `json:"seed"`
}

// fileState is the single JSON document persisted to disk.
type fileState struct {
	PinSalt   []byte              `json:"pin_salt"`
	PinHash   []byte              `json:"pin_hash"`
	KeySalt   []byte              `json:"key_salt"`
	Attempts  int                 `json:"attempts"`
	LockedOut bool                `json:"locked_out"`
	Slots     map[string]fileSlot `json:"slots"`
}

// File implements hardware.SecureElement as an Argon2id + AES-256-GCM
// encrypted keystore file, for headless environments where no OS
// keychain exists. The PIN is the key-derivation input for the
// slot-seed encryption key, so the same secret that gates Sign also
// protects seeds at rest: stealing the file without the PIN yields
// nothing but public keys.
//
// The derived encryption key is cached in memory for the rest of the
// session once it is derived (on SetPIN, during provisioning, and on a
// successful VerifyPIN), since authentication is single-shot per
// session rather than re-checked on every operation. SetPIN alone does
// not authenticate the session: Sign also requires a successful
// VerifyPIN.
type File struct {
	path string

	mu            sync.Mutex
	authenticated bool
	sessionKey    []byte
}

// NewFile returns a File SecureElement persisted at path (a JSON file
// that is created, with its parent directory, on first SetPIN).
func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, deviceerr.New(deviceerr.SeOther, "file secure element path cannot be empty")
	}
	return &File{path: path}, nil
}

func (f *File) load() (fileState, bool, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return fileState{}, false, nil
	}
	if err != nil {
		return fileState{}, false, deviceerr.Wrap(deviceerr.StorageIO, "read secure element file", err)
	}
	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		return fileState{}, false, deviceerr.Wrap(deviceerr.StorageIO, "parse secure element file", err)
	}
	return st, true, nil
}

func (f *File) save(st fileState) error {
	if err := os.MkdirAll(filepath.Dir(f.path), dirPerm); err != nil {
		return deviceerr.Wrap(deviceerr.StorageIO, "create secure element directory", err)
	}
	data, err := json.Marshal(st)
	if err != nil {
		return deviceerr.Wrap(deviceerr.StorageIO, "marshal secure element state", err)
	}
	if err := os.WriteFile(f.path, data, filePerm); err != nil {
		return deviceerr.Wrap(deviceerr.StorageIO, "write secure element file", err)
	}
	return nil
}

func (f *File) IsProvisioned() (bool, error) {
	_, ok, err := f.load()
	return ok, err
}

func (f *File) SetPIN(pin []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok, err := f.load()
	if err != nil {
		return err
	}
	if !ok {
		st = fileState{Slots: make(map[string]fileSlot)}
	}
	if st.Slots == nil {
		st.Slots = make(map[string]fileSlot)
	}

	salt := make([]byte, pinSaltLen)
	if err := randRead(salt); err != nil {
		return deviceerr.Wrap(deviceerr.SeOther, "generate pin salt", err)
	}
	keySalt := make([]byte, pinSaltLen)
	if err := randRead(keySalt); err != nil {
		return deviceerr.Wrap(deviceerr.SeOther, "generate key salt", err)
	}

	st.PinSalt = salt
	st.PinHash = pinHash(pin, salt)
	st.KeySalt = keySalt
	st.Attempts = defaultAttemptBudget
	st.LockedOut = false

	if err := f.save(st); err != nil {
		return err
	}
	f.sessionKey = pinHash(pin, keySalt)
	return nil
}

func (f *File) VerifyPIN(pin []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok, err := f.load()
	if err != nil {
		return err
	}
	if !ok {
		return deviceerr.New(deviceerr.SeOther, "secure element is not provisioned")
	}
	if st.LockedOut {
		return deviceerr.New(deviceerr.SeLockedOut, "secure element is locked out")
	}

	if constantTimeEqual(pinHash(pin, st.PinSalt), st.PinHash) {
		st.Attempts = defaultAttemptBudget
		if err := f.save(st); err != nil {
			return err
		}
		f.authenticated = true
		f.sessionKey = pinHash(pin, st.KeySalt)
		return nil
	}

	if st.Attempts > 0 {
		st.Attempts--
	}
	locked := st.Attempts == 0
	st.LockedOut = locked
	remaining := st.Attempts
	if err := f.save(st); err != nil {
		return err
	}
	if locked {
		return deviceerr.New(deviceerr.SeLockedOut, "attempt budget exhausted")
	}
	return deviceerr.New(deviceerr.SeAuth, fmt.Sprintf("pin verification failed, %d attempts remaining", remaining))
}

func (f *File) GenerateKey(slot, algorithm string) ([]byte, error) {
	seed := make([]byte, seedSize)
	if err := randRead(seed); err != nil {
		return nil, deviceerr.Wrap(deviceerr.SeOther, "generate seed", err)
	}
	return f.storeSlot(slot, algorithm, seed)
}

func (f *File) ImportKey(slot, algorithm string, seed []byte) ([]byte, error) {
	return f.storeSlot(slot, algorithm, seed)
}

func (f *File) storeSlot(slot, algorithm string, seed []byte) ([]byte, error) {
	if err := validateSlot(slot); err != nil {
		return nil, err
	}
	signer, err := newSignerFromSeed(algorithm, seed)
	if err != nil {
		return nil, deviceerr.Wrap(deviceerr.SeOther, "derive signer from seed", err)
	}
	defer signer.Zeroize()
	pubKey := signer.PublicKey().Bytes()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessionKey == nil {
		return nil, deviceerr.New(deviceerr.SeAuth, "secure element is not authenticated for this session")
	}

	st, ok, err := f.load()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, deviceerr.New(deviceerr.SeOther, "secure element is not provisioned")
	}
	if st.Slots == nil {
		st.Slots = make(map[string]fileSlot)
	}

	sealed, err := f.seal(f.sessionKey, seed)
	if err != nil {
		return nil, err
	}
	st.Slots[slot] = fileSlot{Algorithm: algorithm, PubKey: pubKey, Seed: sealed}
	if err := f.save(st); err != nil {
		return nil, err
	}
	return pubKey, nil
}

func (f *File) ExportSeed(slot string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessionKey == nil {
		return nil, deviceerr.New(deviceerr.SeAuth, "secure element is not authenticated for this session")
	}

	rec, err := f.loadSlot(slot)
	if err != nil {
		return nil, err
	}
	return f.open(f.sessionKey, rec.Seed)
}

func (f *File) PublicKey(slot string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, err := f.loadSlot(slot)
	if err != nil {
		return nil, err
	}
	return rec.PubKey, nil
}

func (f *File) Algorithm(slot string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, err := f.loadSlot(slot)
	if err != nil {
		return "", err
	}
	return rec.Algorithm, nil
}

func (f *File) loadSlot(slot string) (fileSlot, error) {
	st, ok, err := f.load()
	if err != nil {
		return fileSlot{}, err
	}
	if !ok {
		return fileSlot{}, deviceerr.New(deviceerr.SeOther, "secure element is not provisioned")
	}
	rec, ok := st.Slots[slot]
	if !ok {
		return fileSlot{}, deviceerr.New(deviceerr.SeOther, fmt.Sprintf("slot %q not found", slot))
	}
	return rec, nil
}

func (f *File) Sign(slot string, digest []byte) ([]byte, error) {
	f.mu.Lock()
	if !f.authenticated || f.sessionKey == nil {
		f.mu.Unlock()
		return nil, deviceerr.New(deviceerr.SeAuth, "sign requires a successful verify_pin in this session")
	}
	key := f.sessionKey
	f.mu.Unlock()

	rec, err := f.loadSlot(slot)
	if err != nil {
		return nil, err
	}
	seed, err := f.open(key, rec.Seed)
	if err != nil {
		return nil, err
	}
	signer, err := newSignerFromSeed(rec.Algorithm, seed)
	if err != nil {
		return nil, deviceerr.Wrap(deviceerr.SeOther, "derive signer from seed", err)
	}
	defer signer.Zeroize()

	sig, err := signer.Sign(digest)
	if err != nil {
		return nil, deviceerr.Wrap(deviceerr.SeOther, "sign", err)
	}
	return sig, nil
}

func (f *File) seal(key, plaintext []byte) (cipherText, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return cipherText{}, deviceerr.Wrap(deviceerr.SeOther, "create cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return cipherText{}, deviceerr.Wrap(deviceerr.SeOther, "create gcm", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if err := randRead(nonce); err != nil {
		return cipherText{}, deviceerr.Wrap(deviceerr.SeOther, "generate nonce", err)
	}
	ct := aead.Seal(nil, nonce, plaintext, nil)
	return cipherText{Nonce: nonce, Ciphertext: ct}, nil
}

func (f *File) open(key []byte, ct cipherText) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, deviceerr.Wrap(deviceerr.SeOther, "create cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, deviceerr.Wrap(deviceerr.SeOther, "create gcm", err)
	}
	pt, err := aead.Open(nil, ct.Nonce, ct.Ciphertext, nil)
	if err != nil {
		return nil, deviceerr.New(deviceerr.SeAuth, "wrong pin or tampered slot data")
	}
	return pt, nil
}
