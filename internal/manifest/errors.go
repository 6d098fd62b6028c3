package manifest

import "errors"

// Sentinel errors for manifest parsing and lookup. Callers match with
// errors.Is; the wrapped messages carry the offending channel, component,
// or locator scheme.
var (
	ErrMalformedManifest  = errors.New("malformed manifest")
	ErrUnsupportedLocator = errors.New("unsupported source locator")
	ErrChannelNotFound    = errors.New("channel not found")
	ErrComponentNotFound  = errors.New("component not found")
)
