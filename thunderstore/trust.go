package thunderstore

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
)

// DefaultTrustedHosts are the registry hosts downloads may come from.
// Subdomains of each host are trusted too.
var DefaultTrustedHosts = []string{"thunderstore.io"}

const maxRedirects = 10

var ErrUntrustedRedirect = errors.New("redirect to untrusted host")

// TrustedURL reports whether u is an https URL without userinfo on one of
// hosts or a subdomain of one.
func TrustedURL(u *url.URL, hosts []string) bool {
	if u == nil || !strings.EqualFold(u.Scheme, "https") || u.User != nil {
		return false
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return false
	}
	for _, trusted := range hosts {
		trusted = strings.ToLower(trusted)
		if host == trusted || strings.HasSuffix(host, "."+trusted) {
			return true
		}
	}
	return false
}

// TrustedLocator parses locator and applies TrustedURL.
func TrustedLocator(locator string, hosts []string) bool {
	if locator == "" {
		return false
	}
	u, err := url.Parse(locator)
	if err != nil {
		return false
	}
	return TrustedURL(u, hosts)
}

// trustedRedirectPolicy follows a redirect only when its target is trusted,
// so a trusted locator cannot hand a download off to another host.
func trustedRedirectPolicy(hosts []string) resty.RedirectPolicy {
	return resty.RedirectPolicyFunc(func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		if !TrustedURL(req.URL, hosts) {
			return fmt.Errorf("%w: %s", ErrUntrustedRedirect, req.URL.Redacted())
		}
		return nil
	})
}
