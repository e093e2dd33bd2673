package account

import "errors"

var (
	// ErrNotFound は対象のユーザーが存在しない場合に返されます。
	ErrNotFound = errors.New("account not found")

	// ErrInvalidInput はユーザー名またはパスワードが空の場合に返されます。
	ErrInvalidInput = errors.New("username and password are required")

	// ErrDuplicateAccount はユーザー名が既に登録されている場合に返されます。
	ErrDuplicateAccount = errors.New("username already taken")

	// ErrAuthenticationFailed はユーザーが存在しない場合とパスワード不一致の場合の両方で返されます。
	ErrAuthenticationFailed = errors.New("authentication failed")
)
