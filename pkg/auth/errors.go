package auth

import "errors"

var (
	ErrRefreshFailed       = errors.New("token refresh failed")
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrTokenInvalid        = errors.New("token invalid")
)
