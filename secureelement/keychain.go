package secureelement

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"

	"github.com/paolino/air-gap-signer/deviceerr"
)

const (
	keychainPinKey        = "pin"
	keychainAttemptsKey   = "attempts"
	keychainLockedKey     = "locked"
	keychainSlotListKey   = "_slotlist"
	keychainSlotKeyPrefix = "slot:"
)

// pinRecord is the JSON payload stored under keychainPinKey.
type pinRecord struct {
	Salt []byte `json:"salt"`
	Hash []byte `json:"hash"`
}

// Keychain implements hardware.SecureElement against the host OS
// keychain (macOS Keychain, Windows Credential Store, Linux Secret
// Service via go-keyring), for development on a machine that has one.
// The keychain provides its own at-rest encryption; this collaborator
// stores slot seeds as plain JSON.
type Keychain struct {
	service string

	mu            sync.Mutex
	authenticated bool
}

// NewKeychain returns a Keychain SecureElement namespaced under
// service. An empty service is rejected outright.
func NewKeychain(service string) (*Keychain, error) {
	if service == "" {
		return nil, deviceerr.New(deviceerr.SeOther, "keychain service name cannot be empty")
	}
	if _, err := keyring.Get(service, keychainSlotListKey); err != nil && err != keyring.ErrNotFound {
		return nil, deviceerr.Wrap(deviceerr.SeOther, "keychain unavailable", err)
	}
	return &Keychain{service: service}, nil
}

func (k *Keychain) IsProvisioned() (bool, error) {
	_, err := keyring.Get(k.service, keychainPinKey)
	if err == keyring.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, deviceerr.Wrap(deviceerr.SeOther, "read pin record", err)
	}
	return true, nil
}

func (k *Keychain) SetPIN(pin []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	salt := make([]byte, pinSaltLen)
	if err := randRead(salt); err != nil {
		return deviceerr.Wrap(deviceerr.SeOther, "generate pin salt", err)
	}
	rec := pinRecord{Salt: salt, Hash: pinHash(pin, salt)}
	data, err := json.Marshal(rec)
	if err != nil {
		return deviceerr.Wrap(deviceerr.SeOther, "marshal pin record", err)
	}
	if err := keyring.Set(k.service, keychainPinKey, string(data)); err != nil {
		return deviceerr.Wrap(deviceerr.SeOther, "store pin record", err)
	}
	if err := keyring.Set(k.service, keychainAttemptsKey, strconv.Itoa(defaultAttemptBudget)); err != nil {
		return deviceerr.Wrap(deviceerr.SeOther, "store attempt budget", err)
	}
	_ = keyring.Delete(k.service, keychainLockedKey)
	return nil
}

func (k *Keychain) VerifyPIN(pin []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if locked, err := k.isLocked(); err != nil {
		return err
	} else if locked {
		return deviceerr.New(deviceerr.SeLockedOut, "secure element is locked out")
	}

	raw, err := keyring.Get(k.service, keychainPinKey)
	if err == keyring.ErrNotFound {
		return deviceerr.New(deviceerr.SeOther, "secure element is not provisioned")
	}
	if err != nil {
		return deviceerr.Wrap(deviceerr.SeOther, "read pin record", err)
	}
	var rec pinRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return deviceerr.Wrap(deviceerr.SeOther, "parse pin record", err)
	}

	if constantTimeEqual(pinHash(pin, rec.Salt), rec.Hash) {
		k.authenticated = true
		_ = keyring.Set(k.service, keychainAttemptsKey, strconv.Itoa(defaultAttemptBudget))
		return nil
	}

	remaining, err := k.decrementAttempts()
	if err != nil {
		return err
	}
	if remaining == 0 {
		_ = keyring.Set(k.service, keychainLockedKey, "1")
		return deviceerr.New(deviceerr.SeLockedOut, "attempt budget exhausted")
	}
	return deviceerr.New(deviceerr.SeAuth, fmt.Sprintf("pin verification failed, %d attempts remaining", remaining))
}

func (k *Keychain) isLocked() (bool, error) {
	_, err := keyring.Get(k.service, keychainLockedKey)
	if err == keyring.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, deviceerr.Wrap(deviceerr.SeOther, "read lockout flag", err)
	}
	return true, nil
}

func (k *Keychain) decrementAttempts() (int, error) {
	raw, err := keyring.Get(k.service, keychainAttemptsKey)
	attempts := defaultAttemptBudget
	if err == nil {
		attempts, _ = strconv.Atoi(raw)
	} else if err != keyring.ErrNotFound {
		return 0, deviceerr.Wrap(deviceerr.SeOther, "read attempt budget", err)
	}
	if attempts > 0 {
		attempts--
	}
	if err := keyring.Set(k.service, keychainAttemptsKey, strconv.Itoa(attempts)); err != nil {
		return 0, deviceerr.Wrap(deviceerr.SeOther, "store attempt budget", err)
	}
	return attempts, nil
}

func (k *Keychain) GenerateKey(slot, algorithm string) ([]byte, error) {
	if err := validateSlot(slot); err != nil {
		return nil, err
	}
	seed := make([]byte, seedSize)
	if err := randRead(seed); err != nil {
		return nil, deviceerr.Wrap(deviceerr.SeOther, "generate seed", err)
	}
	return k.storeSlot(slot, algorithm, seed)
}

func (k *Keychain) ImportKey(slot, algorithm string, seed []byte) ([]byte, error) {
	if err := validateSlot(slot); err != nil {
		return nil, err
	}
	return k.storeSlot(slot, algorithm, seed)
}

func (k *Keychain) storeSlot(slot, algorithm string, seed []byte) ([]byte, error) {
	signer, err := newSignerFromSeed(algorithm, seed)
	if err != nil {
		return nil, deviceerr.Wrap(deviceerr.SeOther, "derive signer from seed", err)
	}
	defer signer.Zeroize()

	rec := slotRecord{Algorithm: algorithm, Seed: seed, PubKey: signer.PublicKey().Bytes()}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, deviceerr.Wrap(deviceerr.SeOther, "marshal slot record", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if err := keyring.Set(k.service, keychainSlotKeyPrefix+slot, string(data)); err != nil {
		return nil, deviceerr.Wrap(deviceerr.SeOther, "store slot record", err)
	}
	if err := k.addToSlotList(slot); err != nil {
		return nil, err
	}
	return rec.PubKey, nil
}

func (k *Keychain) addToSlotList(slot string) error {
	listStr, err := keyring.Get(k.service, keychainSlotListKey)
	if err != nil && err != keyring.ErrNotFound {
		return deviceerr.Wrap(deviceerr.SeOther, "read slot list", err)
	}
	var slots []string
	if listStr != "" {
		slots = strings.Split(listStr, ",")
	}
	for _, s := range slots {
		if s == slot {
			return nil
		}
	}
	slots = append(slots, slot)
	if err := keyring.Set(k.service, keychainSlotListKey, strings.Join(slots, ",")); err != nil {
		return deviceerr.Wrap(deviceerr.SeOther, "store slot list", err)
	}
	return nil
}

func (k *Keychain) loadSlot(slot string) (slotRecord, error) {
	raw, err := keyring.Get(k.service, keychainSlotKeyPrefix+slot)
	if err == keyring.ErrNotFound {
		return slotRecord{}, deviceerr.New(deviceerr.SeOther, fmt.Sprintf("slot %q not found", slot))
	}
	if err != nil {
		return slotRecord{}, deviceerr.Wrap(deviceerr.SeOther, "read slot record", err)
	}
	var rec slotRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return slotRecord{}, deviceerr.Wrap(deviceerr.SeOther, "parse slot record", err)
	}
	return rec, nil
}

func (k *Keychain) ExportSeed(slot string) ([]byte, error) {
	rec, err := k.loadSlot(slot)
	if err != nil {
		return nil, err
	}
	return rec.Seed, nil
}

func (k *Keychain) PublicKey(slot string) ([]byte, error) {
	rec, err := k.loadSlot(slot)
	if err != nil {
		return nil, err
	}
	return rec.PubKey, nil
}

func (k *Keychain) Algorithm(slot string) (string, error) {
	rec, err := k.loadSlot(slot)
	if err != nil {
		return "", err
	}
	return rec.Algorithm, nil
}

func (k *Keychain) Sign(slot string, digest []byte) ([]byte, error) {
	k.mu.Lock()
	authenticated := k.authenticated
	k.mu.Unlock()
	if !authenticated {
		return nil, deviceerr.New(deviceerr.SeAuth, "sign requires a successful verify_pin in this session")
	}

	rec, err := k.loadSlot(slot)
	if err != nil {
		return nil, err
	}
	signer, err := newSignerFromSeed(rec.Algorithm, rec.Seed)
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
