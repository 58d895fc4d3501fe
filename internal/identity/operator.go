package identity

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrOperatorKey is returned when an operator key does not match.
var ErrOperatorKey = errors.New("invalid operator key")

// OperatorKey guards maintenance endpoints with a shared secret stored only as
// a bcrypt hash.
type OperatorKey struct {
	hash []byte
}

func NewOperatorKey(hash string) OperatorKey {
	return OperatorKey{hash: []byte(hash)}
}

// Enabled reports whether a hash was configured.
func (k OperatorKey) Enabled() bool { return len(k.hash) > 0 }

func (k OperatorKey) Check(key string) error {
	if !k.Enabled() || key == "" {
		return ErrOperatorKey
	}
	if err := bcrypt.CompareHashAndPassword(k.hash, []byte(key)); err != nil {
		return ErrOperatorKey
	}
	return nil
}

// HashOperatorKey produces the value for OPERATOR_KEY_HASH.
func HashOperatorKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
