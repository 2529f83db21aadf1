package web

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/hutgate/activitypub"
	"github.com/gin-gonic/gin"
)

func (h *handlers) userInbox(c *gin.Context) {
	if h.localActor(c) == nil {
		return
	}
	log.Debugf("POST /users/%s/inbox", c.Param("name"))
	h.receive(c)
}

// sharedInbox accepts activities for any local actor. Routing happens on
// the activity itself, so no recipient lookup is needed.
func (h *handlers) sharedInbox(c *gin.Context) {
	log.Debug("POST /inbox (shared inbox)")
	h.receive(c)
}

func (h *handlers) receive(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		log.Warnf("Inbox: Failed to read body: %v", err)
		renderError(c, err)
		return
	}

	if err := activitypub.HandleInbox(c.Request.Context(), h.fed, c.Request, body); err != nil {
		log.Warnf("Inbox: Rejected delivery from %s: %v", c.ClientIP(), err)
		renderError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
