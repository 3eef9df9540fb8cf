package backend

import (
	"errors"
	"fmt"
)

// S3ErrorCode represents standardized S3 error codes
type S3ErrorCode string

const (
	ErrNoSuchBucket            S3ErrorCode = "NoSuchBucket"
	ErrNoSuchKey               S3ErrorCode = "NoSuchKey"
	ErrInvalidKey              S3ErrorCode = "InvalidKey"
	ErrKeyTooLong              S3ErrorCode = "KeyTooLongError"
	ErrInvalidArgument         S3ErrorCode = "InvalidArgument"
	ErrInternalError           S3ErrorCode = "InternalError"
	ErrNotImplemented          S3ErrorCode = "NotImplemented"
	ErrBucketNotEmpty          S3ErrorCode = "BucketNotEmpty"
	ErrBucketAlreadyOwnedByYou S3ErrorCode = "BucketAlreadyOwnedByYou"
	ErrInvalidBucketName       S3ErrorCode = "InvalidBucketName"
	ErrMalformedXML            S3ErrorCode = "MalformedXML"
)

// S3Error represents a typed S3 error with code and message
type S3Error struct {
	Code       S3ErrorCode
	Message    string
	StatusCode int
	Resource   string
}

// Error implements the error interface
func (e *S3Error) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s (resource: %s)", e.Code, e.Message, e.Resource)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is implements error comparison for errors.Is()
func (e *S3Error) Is(target error) bool {
	t, ok := target.(*S3Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Predefined errors for common cases
var (
	ErrNoSuchBucketError = &S3Error{
		Code:       ErrNoSuchBucket,
		Message:    "The specified bucket does not exist",
		StatusCode: 404,
	}

	ErrNoSuchKeyError = &S3Error{
		Code:       ErrNoSuchKey,
		Message:    "The specified key does not exist",
		StatusCode: 404,
	}

	ErrInvalidKeyError = &S3Error{
		Code:       ErrInvalidKey,
		Message:    "The specified key is not valid",
		StatusCode: 400,
	}

	ErrKeyTooLongError = &S3Error{
		Code:       ErrKeyTooLong,
		Message:    "Your key is too long",
		StatusCode: 400,
	}

	ErrInvalidArgumentError = &S3Error{
		Code:       ErrInvalidArgument,
		Message:    "Invalid Argument",
		StatusCode: 400,
	}

	ErrMalformedXMLError = &S3Error{
		Code:       ErrMalformedXML,
		Message:    "The XML you provided was not well-formed or did not validate against our published schema.",
		StatusCode: 400,
	}

	ErrInternalServerError = &S3Error{
		Code:       ErrInternalError,
		Message:    "We encountered an internal error. Please try again.",
		StatusCode: 500,
	}

	ErrNotImplementedError = &S3Error{
		Code:       ErrNotImplemented,
		Message:    "A header or query you provided implies functionality that is not implemented.",
		StatusCode: 501,
	}

	ErrBucketAlreadyOwnedByYouError = &S3Error{
		Code:       ErrBucketAlreadyOwnedByYou,
		Message:    "Your previous request to create the named bucket succeeded and you already own it.",
		StatusCode: 409,
	}

	ErrInvalidBucketNameError = &S3Error{
		Code:       ErrInvalidBucketName,
		Message:    "The specified bucket is not valid.",
		StatusCode: 400,
	}

	ErrBucketNotEmptyError = &S3Error{
		Code:       ErrBucketNotEmpty,
		Message:    "The bucket you tried to delete is not empty.",
		StatusCode: 409,
	}
)

// NewS3Error creates a new S3Error with the given code
func NewS3Error(code S3ErrorCode, message string, statusCode int) *S3Error {
	return &S3Error{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Internal wraps an unexpected storage failure as an InternalError
func Internal(op string, err error) *S3Error {
	return NewS3Error(ErrInternalError, fmt.Sprintf("%s: %v", op, err), 500)
}

// WithResource adds a resource path to an S3Error
func (e *S3Error) WithResource(resource string) *S3Error {
	return &S3Error{
		Code:       e.Code,
		Message:    e.Message,
		StatusCode: e.StatusCode,
		Resource:   resource,
	}
}

// IsS3Error checks if an error is (or wraps) an S3Error and returns it
func IsS3Error(err error) (*S3Error, bool) {
	var s3err *S3Error
	if errors.As(err, &s3err) {
		return s3err, true
	}
	return nil, false
}

// GetHTTPStatus returns the HTTP status code for an error
func GetHTTPStatus(err error) int {
	if s3err, ok := IsS3Error(err); ok {
		return s3err.StatusCode
	}
	return 500
}
