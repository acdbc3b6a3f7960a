// Package classify decides whether a failure is worth retrying.
//
// Classification walks a fixed priority order: structured failure codes, HTTP-like
// status (including gRPC status codes), transport error codes, message keywords,
// and finally an "unknown" non-retryable default.
package classify

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vietddude/retrykit/internal/core/failure"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error types reported in Classification.ErrorType.
const (
	TypeStructured  = "structured"
	TypeRateLimit   = "rate_limit"
	TypeAuth        = "auth"
	TypeNotFound    = "not_found"
	TypeClientError = "client_error"
	TypeTimeout     = "timeout"
	TypeServerError = "server_error"
	TypeNetwork     = "network"
	TypeUnknown     = "unknown"
)

// Classification is the retry verdict for a single failure.
type Classification struct {
	IsRetryable bool
	RetryAfter  *time.Duration
	ErrorType   string
	Reason      string
}

// Classifier classifies failures against an injectable clock.
// The clock only matters for X-RateLimit-Reset and HTTP-date Retry-After values.
type Classifier struct {
	Now func() time.Time
}

// Classify classifies err using the wall clock.
func Classify(err error) Classification {
	return Classifier{}.Classify(err)
}

// Classify classifies err. It has no side effects.
func (c Classifier) Classify(err error) Classification {
	if err == nil {
		return Classification{ErrorType: TypeUnknown, Reason: "no error"}
	}
	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}

	if cls, ok := classifyStructured(err, now); ok {
		return cls
	}
	if cls, ok := classifyStatus(err, now); ok {
		return cls
	}
	if cls, ok := classifyNetwork(err); ok {
		return cls
	}
	if cls, ok := classifyMessage(err, now); ok {
		return cls
	}

	return Classification{
		IsRetryable: false,
		ErrorType:   TypeUnknown,
		Reason:      "unrecognised failure",
	}
}

type coded interface {
	ErrorCode() string
}

type flagged interface {
	Retryable() bool
}

type statuser interface {
	Status() int
}

type responder interface {
	HTTPResponse() *http.Response
}

type headered interface {
	ResponseHeader() http.Header
}

// classifyStructured applies the code tables. The non-retryable table always wins;
// otherwise the explicit flag or membership in the retryable table makes the
// failure retryable.
func classifyStructured(err error, now time.Time) (Classification, bool) {
	var c coded
	if !errors.As(err, &c) || c.ErrorCode() == "" {
		return Classification{}, false
	}
	code := strings.ToUpper(c.ErrorCode())

	flag := false
	if f, ok := c.(flagged); ok {
		flag = f.Retryable()
	}

	if _, blocked := nonRetryableCodes[code]; blocked {
		return Classification{
			ErrorType: TypeStructured,
			Reason:    fmt.Sprintf("code %s is never retried", code),
		}, true
	}

	_, listed := retryableCodes[code]
	cls := Classification{
		IsRetryable: flag || listed,
		ErrorType:   TypeStructured,
	}
	switch {
	case listed:
		cls.Reason = fmt.Sprintf("code %s is retryable", code)
	case flag:
		cls.Reason = fmt.Sprintf("code %s flagged retryable", code)
	default:
		cls.Reason = fmt.Sprintf("code %s is not retryable", code)
	}
	if cls.IsRetryable {
		cls.RetryAfter = RetryAfter(headerOf(err), now)
	}
	return cls, true
}

func classifyStatus(err error, now time.Time) (Classification, bool) {
	code, header, retryAfter, ok := statusOf(err)
	if !ok {
		return Classification{}, false
	}

	cls := Classification{ErrorType: statusType(code)}
	_, blocked := nonRetryableStatus[code]
	_, listed := retryableStatus[code]
	switch {
	case blocked:
		cls.Reason = fmt.Sprintf("status %d is not retryable", code)
	case listed:
		cls.IsRetryable = true
		cls.Reason = fmt.Sprintf("status %d is retryable", code)
	case code >= 500 && code <= 599:
		cls.IsRetryable = true
		cls.Reason = fmt.Sprintf("server error status %d", code)
	default:
		cls.Reason = fmt.Sprintf("status %d is not retryable", code)
	}

	if cls.IsRetryable {
		cls.RetryAfter = retryAfter
		if cls.RetryAfter == nil {
			cls.RetryAfter = RetryAfter(header, now)
		}
	}
	return cls, true
}

// statusOf finds an HTTP-like status in err's chain. gRPC statuses are mapped to
// their HTTP equivalents and may carry a RetryInfo delay.
func statusOf(err error) (int, http.Header, *time.Duration, bool) {
	var s statuser
	if errors.As(err, &s) && s.Status() > 0 {
		return s.Status(), headerOf(err), nil, true
	}

	var r responder
	if errors.As(err, &r) && r.HTTPResponse() != nil {
		resp := r.HTTPResponse()
		return resp.StatusCode, resp.Header, nil, true
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.OK {
		var delay *time.Duration
		for _, d := range st.Details() {
			if info, ok := d.(*errdetails.RetryInfo); ok && info.GetRetryDelay() != nil {
				v := info.GetRetryDelay().AsDuration()
				delay = &v
				break
			}
		}
		return grpcToHTTP(st.Code()), nil, delay, true
	}

	return 0, nil, nil, false
}

func grpcToHTTP(c codes.Code) int {
	switch c {
	case codes.Canceled:
		return 499
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unimplemented:
		return http.StatusMethodNotAllowed
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func statusType(code int) string {
	switch {
	case code == http.StatusTooManyRequests:
		return TypeRateLimit
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return TypeAuth
	case code == http.StatusNotFound || code == http.StatusGone:
		return TypeNotFound
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout || code == 522 || code == 524:
		return TypeTimeout
	case code >= 500:
		return TypeServerError
	default:
		return TypeClientError
	}
}

func classifyNetwork(err error) (Classification, bool) {
	code := strings.ToUpper(failure.NetworkCodeOf(err))
	if code == "" {
		return Classification{}, false
	}
	if _, ok := retryableNetworkCodes[code]; ok {
		return Classification{
			IsRetryable: true,
			ErrorType:   TypeNetwork,
			Reason:      fmt.Sprintf("network error %s", code),
		}, true
	}
	return Classification{
		ErrorType: TypeNetwork,
		Reason:    fmt.Sprintf("network error %s is not retryable", code),
	}, true
}

func classifyMessage(err error, now time.Time) (Classification, bool) {
	msg := strings.ToLower(err.Error())

	if kw, ok := matchAny(msg, networkKeywords); ok {
		return Classification{
			IsRetryable: true,
			ErrorType:   TypeNetwork,
			Reason:      fmt.Sprintf("message mentions %q", kw),
		}, true
	}
	if kw, ok := matchAny(msg, rateLimitKeywords); ok {
		return Classification{
			IsRetryable: true,
			RetryAfter:  RetryAfter(headerOf(err), now),
			ErrorType:   TypeRateLimit,
			Reason:      fmt.Sprintf("message mentions %q", kw),
		}, true
	}
	if kw, ok := matchAny(msg, authKeywords); ok {
		return Classification{
			ErrorType: TypeAuth,
			Reason:    fmt.Sprintf("message mentions %q", kw),
		}, true
	}
	return Classification{}, false
}

func matchAny(s string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return kw, true
		}
	}
	return "", false
}

func headerOf(err error) http.Header {
	var h headered
	if errors.As(err, &h) {
		return h.ResponseHeader()
	}
	var r responder
	if errors.As(err, &r) && r.HTTPResponse() != nil {
		return r.HTTPResponse().Header
	}
	return nil
}
