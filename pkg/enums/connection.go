package enums

import "fmt"

// Platform identifies the external commerce platform behind a connection.
type Platform string

const (
	PlatformShopify Platform = "shopify"
)

var validPlatforms = []Platform{
	PlatformShopify,
}

// String implements fmt.Stringer.
func (p Platform) String() string {
	return string(p)
}

// IsValid reports whether the value is a known Platform.
func (p Platform) IsValid() bool {
	for _, candidate := range validPlatforms {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePlatform converts raw input into a Platform.
func ParsePlatform(value string) (Platform, error) {
	for _, candidate := range validPlatforms {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid platform %q", value)
}

// ConnectionStatus tracks the lifecycle of an external store binding.
type ConnectionStatus string

const (
	ConnectionStatusPending      ConnectionStatus = "pending"
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusError        ConnectionStatus = "error"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
)

var validConnectionStatuses = []ConnectionStatus{
	ConnectionStatusPending,
	ConnectionStatusConnected,
	ConnectionStatusError,
	ConnectionStatusDisconnected,
}

// String implements fmt.Stringer.
func (s ConnectionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ConnectionStatus.
func (s ConnectionStatus) IsValid() bool {
	for _, candidate := range validConnectionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// Syncable reports whether a run may be started against the connection.
// Connections in error keep their credentials, so a manual retry is allowed.
func (s ConnectionStatus) Syncable() bool {
	return s == ConnectionStatusConnected || s == ConnectionStatusError
}

// ParseConnectionStatus converts raw input into a ConnectionStatus.
func ParseConnectionStatus(value string) (ConnectionStatus, error) {
	for _, candidate := range validConnectionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid connection status %q", value)
}
