package oidcclient

import "errors"

var (
	ErrInvalidParameter   = errors.New("invalid parameter")
	ErrNilParameter       = errors.New("nil parameter")
	ErrInvalidCACert      = errors.New("invalid CA certificate")
	ErrIDGeneratorFailed  = errors.New("id generation failed")
	ErrProviderError      = errors.New("provider returned an error response")
	ErrUnknownState       = errors.New("unknown or expired state")
	ErrMissingCode        = errors.New("authorization code is missing")
	ErrMissingIDToken     = errors.New("id_token is missing")
	ErrMissingAccessToken = errors.New("access_token is missing")
	ErrMissingExpiry      = errors.New("token expiry is missing")
	ErrInvalidNonce       = errors.New("invalid nonce")
	ErrInvalidAudience    = errors.New("invalid audience")
	ErrInvalidSubject     = errors.New("invalid subject")
	ErrExpiredIDToken     = errors.New("id_token is expired")
	ErrUserInfoFailed     = errors.New("user info failed")
)
