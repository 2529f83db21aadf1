package web

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/hutgate/activitypub"
	"github.com/deemkeen/hutgate/domain"
	"github.com/gin-gonic/gin"
)

type ProfilePageData struct {
	Title    string
	Domain   string
	Actor    *domain.Actor
	Handle   string
	Listings []domain.Listing
}

// localActor resolves the :name parameter. It writes the error response
// and returns nil when there is no such local actor.
func (h *handlers) localActor(c *gin.Context) *domain.Actor {
	name := c.Param("name")
	actor, err := activitypub.ResolveLocalActorByName(c.Request.Context(), h.fed, name)
	if err != nil {
		renderError(c, err)
		return nil
	}
	if actor == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Actor not found"})
		return nil
	}
	return actor
}

func (h *handlers) actor(c *gin.Context) {
	actor := h.localActor(c)
	if actor == nil {
		return
	}
	renderObject(c, http.StatusOK, activitypub.PersonFromActor(h.fed, actor))
}

func (h *handlers) profile(c *gin.Context) {
	name := c.Param("name")
	actor, err := activitypub.ResolveLocalActorByName(c.Request.Context(), h.fed, name)
	if err != nil || actor == nil {
		if err != nil {
			log.Warnf("Profile %s: %v", name, err)
		}
		renderNotFoundPage(c, "There is no such user on this instance.")
		return
	}

	listings, err := activitypub.ListingsOf(c.Request.Context(), h.fed, actor.ApId)
	if err != nil {
		log.Warnf("Profile %s: failed to load listings: %v", name, err)
	}

	title := actor.DisplayName
	if title == "" {
		title = actor.Username
	}
	c.HTML(http.StatusOK, "profile.html", ProfilePageData{
		Title:    title,
		Domain:   h.fed.Domain,
		Actor:    actor,
		Handle:   "@" + actor.Username + "@" + h.fed.Domain,
		Listings: listings,
	})
}

func (h *handlers) followers(c *gin.Context) {
	actor := h.localActor(c)
	if actor == nil {
		return
	}
	renderObject(c, http.StatusOK, activitypub.FollowersCollection(h.fed, actor))
}

func (h *handlers) outbox(c *gin.Context) {
	actor := h.localActor(c)
	if actor == nil {
		return
	}

	listings, err := activitypub.ListingsOf(c.Request.Context(), h.fed, actor.ApId)
	if err != nil {
		renderError(c, err)
		return
	}
	renderObject(c, http.StatusOK, activitypub.OutboxCollection(h.fed, actor, listings))
}

func (h *handlers) following(c *gin.Context) {
	actor := h.localActor(c)
	if actor == nil {
		return
	}

	following, err := activitypub.FollowingOf(c.Request.Context(), h.fed, actor.ApId)
	if err != nil {
		renderError(c, err)
		return
	}
	renderObject(c, http.StatusOK, activitypub.FollowingCollection(h.fed, actor, following))
}
