package proxy

// ipAddressContextKey is the type for the client IP address context key.
type ipAddressContextKey struct{}

// IPAddressKey is the context key under which inbound transports store the
// client's real IP address, for audit correlation and future rate limiting.
var IPAddressKey = ipAddressContextKey{}
