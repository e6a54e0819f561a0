package instance

import (
	"os"
	"strings"
)

// ID identifies this process in logs and lock ownership. It prefers
// FLABLE_INSTANCE_ID, then the platform dyno name, then the hostname.
func ID() string {
	for _, env := range []string{"FLABLE_INSTANCE_ID", "DYNO"} {
		if id := strings.TrimSpace(os.Getenv(env)); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
