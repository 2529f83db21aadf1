package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/deemkeen/hutgate/domain"
	"github.com/deemkeen/hutgate/util"
)

const (
	WebfingerContentType = "application/jrd+json"
	relSelf              = "self"
	relProfilePage       = "http://webfinger.net/rel/profile-page"
)

var webfingerResource = regexp.MustCompile(`^acct:([\p{L}0-9_.\-]+)@([^@\s]+)$`)

type WebfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href,omitempty"`
}

type WebfingerResponse struct {
	Subject string          `json:"subject"`
	Aliases []string        `json:"aliases,omitempty"`
	Links   []WebfingerLink `json:"links"`
}

// ExtractWebfingerName returns the username of an acct: resource hosted
// on domain.
func ExtractWebfingerName(resource, domain string) (string, error) {
	m := webfingerResource.FindStringSubmatch(resource)
	if m == nil {
		return "", fmt.Errorf("%w: resource %q", ErrInvalidReference, resource)
	}
	if !strings.EqualFold(m[2], domain) {
		return "", fmt.Errorf("%w: %s is not hosted on %s", ErrInvalidReference, resource, domain)
	}
	return m[1], nil
}

// NewWebfingerResponse describes a local actor for the given resource.
func NewWebfingerResponse(resource string, a *domain.Actor) *WebfingerResponse {
	return &WebfingerResponse{
		Subject: resource,
		Aliases: []string{a.ApId},
		Links: []WebfingerLink{
			{Rel: relProfilePage, Type: "text/html", Href: a.ApId},
			{Rel: relSelf, Type: ContentType, Href: a.ApId},
		},
	}
}

// SelfLink returns the ActivityPub actor id a response points at.
func (w *WebfingerResponse) SelfLink() (string, bool) {
	for _, l := range w.Links {
		if l.Rel != relSelf || l.Href == "" {
			continue
		}
		if l.Type == "" || l.Type == ContentType || strings.HasPrefix(l.Type, "application/ld+json") {
			return l.Href, true
		}
	}
	return "", false
}

// ParseHandle splits "name@domain", "@name@domain" or "acct:name@domain".
func ParseHandle(handle string) (name, host string, err error) {
	handle = strings.TrimPrefix(strings.TrimPrefix(handle, "acct:"), "@")
	name, host, ok := strings.Cut(handle, "@")
	if !ok || name == "" || host == "" || strings.Contains(host, "@") {
		return "", "", fmt.Errorf("%w: handle %q", ErrInvalidReference, handle)
	}
	return name, host, nil
}

// ResolveWebfinger looks a handle up on its home server and resolves the
// actor it names.
func ResolveWebfinger(ctx context.Context, fed *Federation, handle string) (*domain.Actor, error) {
	name, host, err := ParseHandle(handle)
	if err != nil {
		return nil, err
	}

	scheme := "https"
	if strings.HasPrefix(fed.Hostname, "http://") {
		scheme = "http"
	}
	resource := fmt.Sprintf("acct:%s@%s", name, host)
	target := fmt.Sprintf("%s://%s/.well-known/webfinger?resource=%s", scheme, host, url.QueryEscape(resource))

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidReference, err)
	}
	req.Header.Set("Accept", WebfingerContentType)
	req.Header.Set("User-Agent", util.UserAgent())

	resp, err := fed.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: webfinger %s: %w", ErrUpstream, resource, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: webfinger %s: status %d", ErrUpstream, resource, resp.StatusCode)
	}

	var wf WebfingerResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxObjectSize)).Decode(&wf); err != nil {
		return nil, fmt.Errorf("%w: webfinger %s: %w", ErrMalformed, resource, err)
	}

	href, ok := wf.SelfLink()
	if !ok {
		return nil, fmt.Errorf("%w: webfinger %s has no actor link", ErrMalformed, resource)
	}
	return ResolveActor(ctx, fed, href)
}
