package account

import (
	"errors"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher はパスワードのハッシュ化と照合を提供します。
type PasswordHasher interface {
	// Hash はパスワードのハッシュを返します。
	Hash(password string) (string, error)

	// Compare は一致すれば (true, nil)、不一致なら (false, nil)、ハッシュが不正なら error を返します。
	Compare(hash, password string) (bool, error)
}

// BcryptHasher は bcrypt による PasswordHasher です。
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher は BcryptHasher を作成します。範囲外の cost は bcrypt.DefaultCost に丸めます。
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash はパスワードを bcrypt でハッシュ化します。
func (h *BcryptHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", oops.Code("PASSWORD_HASH_FAILED").Wrap(err)
	}
	return string(hash), nil
}

// Compare は bcrypt.CompareHashAndPassword で照合します。
func (h *BcryptHasher) Compare(hash, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, oops.Code("PASSWORD_HASH_INVALID").Wrap(err)
}
