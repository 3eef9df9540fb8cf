package backend

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxKeyLength is the longest object key S3 accepts, in bytes
const MaxKeyLength = 1024

var (
	bucketNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]*[a-z0-9]$`)
	ipAddressRe  = regexp.MustCompile(`^\d+\.\d+\.\d+\.\d+$`)

	reservedBucketPrefixes = []string{"xn--", "sthree-", "amzn-s3-demo-"}
	reservedBucketSuffixes = []string{"-s3alias", "--ol-s3", ".mrap", "--x-s3", "--table-s3"}
)

// IsValidBucketName validates a bucket name according to S3 naming rules
// https://docs.aws.amazon.com/AmazonS3/latest/userguide/bucketnamingrules.html
func IsValidBucketName(bucket string) error {
	if len(bucket) < 3 {
		return errors.New("bucket name must be at least 3 characters")
	}
	if len(bucket) > 63 {
		return errors.New("bucket name must be at most 63 characters")
	}
	if !bucketNameRe.MatchString(bucket) {
		return errors.New("bucket name must consist of lowercase letters, numbers, periods (.), and hyphens (-) and must begin and end with a letter or number")
	}
	if strings.Contains(bucket, "..") {
		return errors.New("bucket name must not contain two adjacent periods")
	}
	if ipAddressRe.MatchString(bucket) {
		return errors.New("bucket name must not be formatted as an IP address")
	}
	for _, prefix := range reservedBucketPrefixes {
		if strings.HasPrefix(bucket, prefix) {
			return fmt.Errorf("bucket name must not start with the reserved prefix %s", prefix)
		}
	}
	for _, suffix := range reservedBucketSuffixes {
		if strings.HasSuffix(bucket, suffix) {
			return fmt.Errorf("bucket name must not end with the reserved suffix %s", suffix)
		}
	}
	return nil
}

// ValidateKey validates an object key
func ValidateKey(key string) error {
	if key == "" {
		return NewS3Error(ErrInvalidKey, "Key cannot be empty", 400)
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLongError.WithResource(key[:64] + "...")
	}
	if !utf8.ValidString(key) {
		return NewS3Error(ErrInvalidKey, "Key must be valid UTF-8", 400)
	}
	return nil
}
