package s3

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

var (
	// ErrNotFound means the object or bucket does not exist. Never retried.
	ErrNotFound = errors.New("job object not found")

	// ErrThrottled means the store asked us to slow down or timed out.
	ErrThrottled = errors.New("object storage throttled")
)

// classify turns an SDK error into one of the package errors. Anything it
// does not recognise is returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "RequestTimeout", "SlowDown":
			return fmt.Errorf("%w: %w", ErrThrottled, err)
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		}
	}
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrThrottled):
		return "throttled"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
