package weather

import "fmt"

// FetchErrorKind classifies upstream fetch failures.
type FetchErrorKind string

const (
	FetchUnauthorized FetchErrorKind = "unauthorized"
	FetchRateLimited  FetchErrorKind = "rate_limited"
	FetchServerError  FetchErrorKind = "server_error"
	FetchTransport    FetchErrorKind = "transport"
	FetchParse        FetchErrorKind = "parse"
)

// FetchError is a typed failure from the upstream weather provider.
type FetchError struct {
	Kind FetchErrorKind
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("weather fetch %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("weather fetch %s", e.Kind)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
