package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUpstreamAccess marks failures caused by the provider refusing service
// for credential, billing or quota reasons. Callers can act on these.
var ErrUpstreamAccess = errors.New("model provider rejected the request (credentials, billing or quota)")

var accessMarkers = []string{
	"credit card",
	"billing",
	"quota",
	"resource_exhausted",
	"api key not valid",
	"invalid api key",
	"invalid x-api-key",
	"permission_denied",
	"authentication_error",
}

// MarkUpstreamAccess wraps err with ErrUpstreamAccess when its message looks
// like a credential or quota rejection.
func MarkUpstreamAccess(err error) error {
	if err == nil || errors.Is(err, ErrUpstreamAccess) {
		return err
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range accessMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %w", ErrUpstreamAccess, err)
		}
	}
	return err
}

func IsUpstreamAccess(err error) bool {
	return errors.Is(err, ErrUpstreamAccess)
}
