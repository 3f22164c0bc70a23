package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes は bcrypt が受け付けるパスワードの最大バイト数です。
const MaxPasswordBytes = 72

// PasswordHasher はパスワードのハッシュ化と照合を抽象化します。
type PasswordHasher interface {
	Hash(password string) (string, error)
	// Verify は一致すれば true を返します。不一致は (false, nil)、
	// ハッシュが壊れている等の異常は (false, err) です。
	Verify(hash, password string) (bool, error)
}

// BcryptHasher は bcrypt による PasswordHasher の実装です。
type BcryptHasher struct {
	Cost int
}

// NewBcryptHasher は指定コストの BcryptHasher を返します。
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{Cost: cost}
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (h *BcryptHasher) Verify(hash, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}
