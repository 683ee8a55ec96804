package usecase

import "errors"

var (
	// ErrInvalidRange is returned when from_date > to_date or a date is malformed.
	ErrInvalidRange = errors.New("invalid date range")

	// ErrInvalidSymbol is returned when the symbol is empty or contains characters not allowed in a ticker.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrStoreCorrupt is returned when persisted data for a symbol cannot be parsed.
	// Callers degrade to treating the symbol as uncached.
	ErrStoreCorrupt = errors.New("candle store corrupt")

	// ErrNotCached is returned by the cached-only query when nothing is stored for the symbol.
	ErrNotCached = errors.New("no cached candles")

	// ErrAuth is returned when the upstream session or credentials are rejected. Not retried.
	ErrAuth = errors.New("upstream authentication failed")

	// ErrRateLimit is returned when upstream signals that the call quota is exhausted.
	ErrRateLimit = errors.New("upstream rate limit exceeded")

	// ErrNetwork is returned for transport failures, timeouts and upstream 5xx responses.
	ErrNetwork = errors.New("upstream network error")

	// ErrUpstreamData is returned when the upstream payload is malformed.
	ErrUpstreamData = errors.New("upstream data error")
)

// IsRetryable reports whether err is a transient upstream failure that is safe to retry.
// Merges are idempotent per date, so retrying a failed sub-range never corrupts the store.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrRateLimit) || errors.Is(err, ErrUpstreamData)
}
