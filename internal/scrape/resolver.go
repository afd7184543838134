package scrape

import (
	"net/url"
	"strings"

	"github.com/balrng/kogb/internal/config"
)

// VendorResolver derives a stable vendor identity from a table row's
// outbound link. ok is false when the row cannot be attributed to a vendor.
type VendorResolver interface {
	Resolve(link string) (id string, ok bool)
}

// HostnameResolver derives the identity from the link hostname: leading
// "www." stripped, first label before the first dot.
type HostnameResolver struct{}

func (HostnameResolver) Resolve(link string) (string, bool) {
	host := hostnameOf(link)
	if host == "" {
		return "", false
	}
	id, _, _ := strings.Cut(host, ".")
	if id == "" {
		return "", false
	}
	return id, true
}

// RegistryResolver matches the link hostname against the configured vendor
// registry; rows with no matching entry are skipped.
type RegistryResolver struct {
	vendors []config.VendorEntry
}

// NewRegistryResolver resolves against the given registry entries.
func NewRegistryResolver(vendors []config.VendorEntry) *RegistryResolver {
	return &RegistryResolver{vendors: vendors}
}

func (r *RegistryResolver) Resolve(link string) (string, bool) {
	host := hostnameOf(link)
	if host == "" {
		return "", false
	}
	for _, v := range r.vendors {
		if strings.Contains(v.WebsiteURL, host) {
			return v.ID, true
		}
	}
	return "", false
}

// ResolverFor picks the registry resolver when a vendor registry is
// configured, falling back to the hostname heuristic otherwise.
func ResolverFor(m *config.Market) VendorResolver {
	if vendors := m.VisibleVendors(); len(vendors) > 0 {
		return NewRegistryResolver(vendors)
	}
	return HostnameResolver{}
}

func hostnameOf(link string) string {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
