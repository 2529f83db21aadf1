package web

import (
	"net/http"

	"github.com/deemkeen/hutgate/activitypub"
	"github.com/gin-gonic/gin"
)

func webfingerNotFound(c *gin.Context, status int) {
	c.JSON(status, gin.H{"detail": http.StatusText(status)})
}

// webfinger answers acct: lookups for local actors only.
func (h *handlers) webfinger(c *gin.Context) {
	resource := c.Query("resource")
	name, err := activitypub.ExtractWebfingerName(resource, h.fed.Domain)
	if err != nil {
		webfingerNotFound(c, http.StatusBadRequest)
		return
	}

	actor, err := activitypub.ResolveLocalActorByName(c.Request.Context(), h.fed, name)
	if err != nil {
		renderError(c, err)
		return
	}
	if actor == nil {
		webfingerNotFound(c, http.StatusNotFound)
		return
	}

	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Content-Type", activitypub.WebfingerContentType+"; charset=utf-8")
	c.JSON(http.StatusOK, activitypub.NewWebfingerResponse(resource, actor))
}
