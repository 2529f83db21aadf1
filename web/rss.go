package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/hutgate/activitypub"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/feeds"
)

const feedSize = 50

var errNoFeed = errors.New("no feed available")

func (h *handlers) feed(c *gin.Context) {
	rss, err := h.GetRSS(c.Request.Context(), c.Query("username"))
	switch {
	case err == nil:
		c.Data(http.StatusOK, "application/xml; charset=utf-8", []byte(rss))
	case errors.Is(err, errNoFeed), errors.Is(err, activitypub.ErrNotFound):
		c.Data(http.StatusNotFound, "application/xml; charset=utf-8", nil)
	default:
		renderError(c, err)
	}
}

// GetRSS renders the listings of a local user, or the recently federated
// activities of the whole instance when username is empty.
func (h *handlers) GetRSS(ctx context.Context, username string) (string, error) {
	link := h.fed.Hostname + "/feed"

	if username == "" {
		return h.instanceRSS(ctx, link)
	}

	actor, err := activitypub.ResolveLocalActorByName(ctx, h.fed, username)
	if err != nil {
		return "", err
	}
	if actor == nil {
		return "", fmt.Errorf("%w: user %s", activitypub.ErrNotFound, username)
	}

	listings, err := activitypub.ListingsOf(ctx, h.fed, actor.ApId)
	if err != nil {
		log.Warnf("Could not get listings from %s: %v", username, err)
		return "", err
	}

	author := &feeds.Author{Name: actor.Username, Email: fmt.Sprintf("%s@%s", actor.Username, h.fed.Domain)}
	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s Listings - %s", h.fed.InstanceName, username),
		Link:        &feeds.Link{Href: fmt.Sprintf("%s?username=%s", link, username)},
		Description: fmt.Sprintf("Listings offered by %s", actor.ApId),
		Author:      author,
		Created:     time.Now(),
	}

	for _, l := range listings {
		feed.Items = append(feed.Items, &feeds.Item{
			Id:          l.ApId,
			Title:       l.Title,
			Link:        &feeds.Link{Href: l.ApId},
			Description: l.Description,
			Author:      author,
			Created:     l.CreatedAt,
			Updated:     l.UpdatedAt,
		})
	}
	return feed.ToRss()
}

func (h *handlers) instanceRSS(ctx context.Context, link string) (string, error) {
	if h.activities == nil {
		return "", errNoFeed
	}

	activities, err := h.activities.ReadRecentActivities(ctx, feedSize)
	if err != nil {
		return "", err
	}

	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s Federation", h.fed.InstanceName),
		Link:        &feeds.Link{Href: link},
		Description: fmt.Sprintf("Activities received by %s", h.fed.Domain),
		Author:      &feeds.Author{Name: h.fed.InstanceName},
		Created:     time.Now(),
	}

	for _, a := range activities {
		target := a.ObjectURI
		if target == "" {
			target = a.ActivityURI
		}
		feed.Items = append(feed.Items, &feeds.Item{
			Id:          a.Id.String(),
			Title:       fmt.Sprintf("%s by %s", a.ActivityType, a.ActorURI),
			Link:        &feeds.Link{Href: target},
			Description: a.ActivityURI,
			Author:      &feeds.Author{Name: a.ActorURI},
			Created:     a.CreatedAt,
		})
	}
	return feed.ToRss()
}
