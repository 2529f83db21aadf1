package activitypub

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ParseReference validates a canonical identifier and returns its URL.
func ParseReference(id string) (*url.URL, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty identifier", ErrInvalidReference)
	}

	u, err := url.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidReference, id, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("%w: %q: unsupported scheme", ErrInvalidReference, id)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: %q: missing host", ErrInvalidReference, id)
	}
	return u, nil
}

// DomainOf returns the host of id with its effective port, e.g.
// "b.example:443" for "https://b.example/users/bob".
func DomainOf(id string) (string, error) {
	u, err := ParseReference(id)
	if err != nil {
		return "", err
	}
	return domainWithPort(u), nil
}

func domainWithPort(u *url.URL) string {
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "http":
			port = "80"
		default:
			port = "443"
		}
	}
	return net.JoinHostPort(strings.ToLower(u.Hostname()), port)
}

// VerifyDomainsMatch fails unless a and b are hosted on the same domain.
// It runs before any received object is persisted.
func VerifyDomainsMatch(a, b string) error {
	da, err := DomainOf(a)
	if err != nil {
		return err
	}
	db, err := DomainOf(b)
	if err != nil {
		return err
	}
	if da != db {
		return fmt.Errorf("%w: %s is not hosted on the domain of %s", ErrVerification, a, b)
	}
	return nil
}

// VerifyDomain fails unless objectId is hosted on expectedDomain, given as
// host or host:port.
func VerifyDomain(objectId, expectedDomain string) error {
	d, err := DomainOf(objectId)
	if err != nil {
		return err
	}

	expected := strings.ToLower(expectedDomain)
	if _, _, err := net.SplitHostPort(expected); err != nil {
		u, _ := ParseReference(objectId)
		expected = domainWithPort(&url.URL{Scheme: u.Scheme, Host: expected})
	}

	if d != expected {
		return fmt.Errorf("%w: %s is not hosted on %s", ErrVerification, objectId, expectedDomain)
	}
	return nil
}
