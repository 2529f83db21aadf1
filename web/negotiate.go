package web

import (
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/deemkeen/hutgate/activitypub"
	"github.com/gin-gonic/gin"
)

const activityStreamsProfile = "https://www.w3.org/ns/activitystreams"

// IsFederatedRequest reports whether the Accept header asks for an
// ActivityStreams document. A missing or unparseable header means HTML.
func IsFederatedRequest(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		mediaType, params, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		switch mediaType {
		case activitypub.ContentType:
			return true
		case "application/ld+json":
			if profile, ok := params["profile"]; !ok || strings.Contains(profile, activityStreamsProfile) {
				return true
			}
		}
	}
	return false
}

// DispatchByAccept serves federated for ActivityStreams clients and html for
// everyone else.
func DispatchByAccept(federated, html gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Vary", "Accept")
		if IsFederatedRequest(c.GetHeader("Accept")) {
			federated(c)
			return
		}
		html(c)
	}
}

// StatusFor maps a federation error to an HTTP status code.
func StatusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
		return http.StatusAccepted
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, activitypub.ErrVerification):
		return http.StatusUnauthorized
	case errors.Is(err, activitypub.ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, activitypub.ErrInvalidReference), errors.Is(err, activitypub.ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, activitypub.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, activitypub.ErrUnsupported):
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}
