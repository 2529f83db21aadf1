package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/deemkeen/hutgate/util"
)

const (
	// maxObjectSize bounds documents read from remote servers.
	maxObjectSize = 1 << 20
	fetchTimeout  = 10 * time.Second
)

// fetchObject dereferences id with a GET signed by the system actor and
// decodes the document into v. found is false when the remote server
// answers 404 or 410. The id the document claims must be hosted on the
// domain it was served from.
func fetchObject(ctx context.Context, fed *Federation, id string, v any) (found bool, err error) {
	if _, err := ParseReference(id); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, id, nil)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidReference, err)
	}
	req.Header.Set("Accept", ContentType)
	req.Header.Set("User-Agent", util.UserAgent())

	if sys := fed.SystemActor; sys != nil {
		if pem, ok := sys.PrivateKeyPem(); ok {
			key, err := ParsePrivateKey(pem)
			if err != nil {
				return false, fmt.Errorf("system actor key: %w", err)
			}
			if err := SignRequest(req, key, sys.KeyId(), nil); err != nil {
				return false, fmt.Errorf("failed to sign fetch: %w", err)
			}
		}
	}

	resp, err := fed.Client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: fetching %s: %w", ErrUpstream, id, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return false, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return false, fmt.Errorf("%w: fetching %s: status %d", ErrUpstream, id, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxObjectSize+1))
	if err != nil {
		return false, fmt.Errorf("%w: reading %s: %w", ErrUpstream, id, err)
	}
	if len(body) > maxObjectSize {
		return false, fmt.Errorf("%w: %s exceeds %d bytes", ErrMalformed, id, maxObjectSize)
	}

	var head struct {
		Id string `json:"id"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrMalformed, id, err)
	}
	if err := VerifyDomainsMatch(head.Id, resp.Request.URL.String()); err != nil {
		return false, err
	}

	if err := json.Unmarshal(body, v); err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrMalformed, id, err)
	}
	return true, nil
}
