package crypto

import "errors"

var (
	// ErrUnknownAlgorithm is returned when a tag does not name one of the
	// three closed Algorithm cases.
	ErrUnknownAlgorithm = errors.New("crypto: unknown algorithm")

	// ErrKeySize is returned when raw key bytes do not match the
	// algorithm's fixed key size.
	ErrKeySize = errors.New("crypto: invalid key size")

	// ErrSignatureSize is returned when a signature is not the
	// algorithm's fixed size before verification is even attempted.
	ErrSignatureSize = errors.New("crypto: invalid signature size")

	// ErrVerifyFailed is returned when a signature does not verify
	// against the given message and public key.
	ErrVerifyFailed = errors.New("crypto: signature verification failed")
)
