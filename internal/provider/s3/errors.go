package s3

import (
	"errors"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/openmined/syftsync/internal/provider"
)

// classify maps S3 API errors onto provider kinds, by error code first and
// falling back to the HTTP status.
func classify(op, key string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket", "NoSuchUpload":
			return provider.NewError(provider.KindNotFound, op, key, err)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "Forbidden":
			return provider.NewError(provider.KindAuth, op, key, err)
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable", "RequestTimeTooSkewed":
			return provider.NewError(provider.KindTransient, op, key, err)
		case "QuotaExceeded", "EntityTooLarge":
			return provider.NewError(provider.KindQuota, op, key, err)
		case "NotImplemented":
			return provider.NewError(provider.KindNotSupported, op, key, err)
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		if mapped := provider.FromHTTPStatus(op, key, respErr.HTTPStatusCode(), ""); mapped != nil {
			var pe *provider.Error
			if errors.As(mapped, &pe) && pe.Kind != provider.KindUnknown {
				return provider.NewError(pe.Kind, op, key, err)
			}
		}
	}

	if k := provider.KindOf(err); k != provider.KindUnknown {
		return provider.NewError(k, op, key, err)
	}
	return provider.NewError(provider.KindUnknown, op, key, err)
}
