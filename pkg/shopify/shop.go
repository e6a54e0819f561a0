package shopify

import (
	"fmt"
	"regexp"
	"strings"
)

const shopSuffix = ".myshopify.com"

var shopHandlePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Shop identifies the store a request is made for. ConnectionID keys the
// per-connection rate limiter.
type Shop struct {
	ConnectionID string
	Domain       string
}

// ShopInfo is the subset of the shop resource stored on a connection.
type ShopInfo struct {
	ID       string
	Name     string
	Email    string
	Currency string
	Timezone string
	Plan     string
}

// NormalizeShopDomain lower-cases the input, strips scheme and path, and
// appends the myshopify suffix when only the handle was given.
func NormalizeShopDomain(raw string) (string, error) {
	shop := strings.ToLower(strings.TrimSpace(raw))
	shop = strings.TrimPrefix(shop, "https://")
	shop = strings.TrimPrefix(shop, "http://")
	if idx := strings.IndexAny(shop, "/?#"); idx >= 0 {
		shop = shop[:idx]
	}
	if shop == "" {
		return "", fmt.Errorf("shop domain is required")
	}
	if !strings.HasSuffix(shop, shopSuffix) {
		if strings.Contains(shop, ".") {
			return "", fmt.Errorf("shop domain %q is not a myshopify.com domain", raw)
		}
		shop += shopSuffix
	}
	handle := strings.TrimSuffix(shop, shopSuffix)
	if !shopHandlePattern.MatchString(handle) {
		return "", fmt.Errorf("shop domain %q is invalid", raw)
	}
	return shop, nil
}
