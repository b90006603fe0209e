package s3sign

import "errors"

// Signing errors. These are the closed set of codes spec.md §4.8
// assigns to synchronous signing-time failures.
var (
	ErrMissingCredentials  = errors.New("ERR_S3_MISSING_CREDENTIALS")
	ErrInvalidMethod       = errors.New("ERR_S3_INVALID_METHOD")
	ErrInvalidPath         = errors.New("ERR_S3_INVALID_PATH")
	ErrInvalidEndpoint     = errors.New("ERR_S3_INVALID_ENDPOINT")
	ErrInvalidSessionToken = errors.New("ERR_S3_INVALID_SESSION_TOKEN")
	ErrInvalidSignature    = errors.New("ERR_S3_INVALID_SIGNATURE")
)
