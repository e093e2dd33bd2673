package account

import (
	"context"
	"errors"
	"sync"

	"github.com/samber/oops"
)

// Service はユーザー登録と資格情報の検証を行います。
type Service struct {
	users  Repository
	hasher PasswordHasher

	dummyOnce sync.Once
	dummyHash string
}

// NewService は Service を作成します。
func NewService(users Repository, hasher PasswordHasher) *Service {
	return &Service{
		users:  users,
		hasher: hasher,
	}
}

// Register はユーザーを登録します。ログイン状態にはしません。
func (s *Service) Register(ctx context.Context, username, password string) (*User, error) {
	if username == "" || password == "" {
		return nil, ErrInvalidInput
	}

	existing, err := s.users.GetByUsername(ctx, username)
	switch {
	case err == nil && existing != nil:
		return nil, ErrDuplicateAccount
	case err != nil && !errors.Is(err, ErrNotFound):
		return nil, oops.Code("ACCOUNT_LOOKUP_FAILED").
			With("username", username).
			Wrap(err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	user := NewUser(username, hash)
	// 同時登録の競合はストア側の一意制約で ErrDuplicateAccount になる
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateAccount) {
			return nil, ErrDuplicateAccount
		}
		return nil, oops.Code("ACCOUNT_CREATE_FAILED").
			With("username", username).
			Wrap(err)
	}
	return user, nil
}

// Authenticate はユーザー名とパスワードを検証し、セッションに保存する UserRef を返します。
// ユーザーが存在しない場合とパスワード不一致の場合はどちらも ErrAuthenticationFailed です。
func (s *Service) Authenticate(ctx context.Context, username, password string) (UserRef, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.compareDummy(password)
			return UserRef{}, ErrAuthenticationFailed
		}
		return UserRef{}, oops.Code("ACCOUNT_LOOKUP_FAILED").
			With("username", username).
			Wrap(err)
	}

	ok, err := s.hasher.Compare(user.PasswordHash, password)
	if err != nil {
		return UserRef{}, oops.Code("ACCOUNT_VERIFY_FAILED").
			With("username", username).
			Wrap(err)
	}
	if !ok {
		return UserRef{}, ErrAuthenticationFailed
	}
	return user.Ref(), nil
}

// compareDummy は存在しないユーザーでも照合と同程度の時間をかけるためのものです。
func (s *Service) compareDummy(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("codedeck-dummy-password")
	})
	if s.dummyHash != "" {
		_, _ = s.hasher.Compare(s.dummyHash, password)
	}
}
