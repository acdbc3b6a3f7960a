package classify

// Structured failure codes that are always worth retrying.
var retryableCodes = map[string]struct{}{
	"RATE_LIMITED":          {},
	"TOO_MANY_REQUESTS":     {},
	"SERVICE_UNAVAILABLE":   {},
	"TIMEOUT":               {},
	"GATEWAY_TIMEOUT":       {},
	"BAD_GATEWAY":           {},
	"NETWORK_ERROR":         {},
	"CONNECTION_ERROR":      {},
	"UPSTREAM_ERROR":        {},
	"TEMPORARY_FAILURE":     {},
	"INTERNAL_ERROR":        {},
	"DEADLOCK":              {},
	"SERIALIZATION_FAILURE": {},
	"LOCK_TIMEOUT":          {},
	"QUERY_CANCELED":        {},
	"TOO_MANY_CONNECTIONS":  {},
}

// Structured failure codes that are never retried, even when flagged retryable.
var nonRetryableCodes = map[string]struct{}{
	"UNAUTHORIZED":          {},
	"UNAUTHENTICATED":       {},
	"AUTHENTICATION_FAILED": {},
	"INVALID_TOKEN":         {},
	"FORBIDDEN":             {},
	"PERMISSION_DENIED":     {},
	"NOT_FOUND":             {},
	"VALIDATION_ERROR":      {},
	"INVALID_INPUT":         {},
	"BAD_REQUEST":           {},
	"CONFLICT":              {},
	"UNIQUE_VIOLATION":      {},
	"FOREIGN_KEY_VIOLATION": {},
	"NOT_NULL_VIOLATION":    {},
}

var nonRetryableStatus = map[int]struct{}{
	400: {}, 401: {}, 403: {}, 404: {}, 405: {}, 409: {}, 410: {}, 422: {},
}

var retryableStatus = map[int]struct{}{
	408: {}, 429: {}, 500: {}, 502: {}, 503: {}, 504: {}, 522: {}, 524: {},
}

// Network codes are compared upper-cased.
var retryableNetworkCodes = map[string]struct{}{
	"ECONNRESET":              {},
	"ECONNREFUSED":            {},
	"ECONNABORTED":            {},
	"ETIMEDOUT":               {},
	"ESOCKETTIMEDOUT":         {},
	"ENOTFOUND":               {},
	"EAI_AGAIN":               {},
	"ENETUNREACH":             {},
	"ENETDOWN":                {},
	"EHOSTUNREACH":            {},
	"EHOSTDOWN":               {},
	"EPIPE":                   {},
	"UND_ERR_CONNECT_TIMEOUT": {},
	"UND_ERR_SOCKET":          {},
}

var networkKeywords = []string{
	"network",
	"timeout",
	"timed out",
	"connection",
	"socket hang up",
	"temporarily unavailable",
	"dns",
}

var rateLimitKeywords = []string{
	"rate limit",
	"ratelimit",
	"too many requests",
	"quota exceeded",
	"throttl",
}

var authKeywords = []string{
	"unauthorized",
	"unauthenticated",
	"forbidden",
	"invalid token",
	"invalid_token",
	"token expired",
	"authentication failed",
	"permission denied",
}
