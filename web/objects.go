package web

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/hutgate/activitypub"
	"github.com/deemkeen/hutgate/domain"
	"github.com/gin-gonic/gin"
)

type CategoryPageData struct {
	Title    string
	Category *domain.Category
}

type ListingPageData struct {
	Title    string
	Listing  *domain.Listing
	Author   *domain.Actor
	Category *domain.Category
}

func (h *handlers) category(c *gin.Context) {
	id := h.fed.CategoryId(c.Param("name"))
	category, err := activitypub.ResolveCategory(c.Request.Context(), h.fed, id)
	if err != nil {
		renderError(c, err)
		return
	}
	if category == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Category not found"})
		return
	}
	renderObject(c, http.StatusOK, activitypub.CategoryObjectFrom(category))
}

func (h *handlers) categoryPage(c *gin.Context) {
	id := h.fed.CategoryId(c.Param("name"))
	category, err := activitypub.ResolveCategory(c.Request.Context(), h.fed, id)
	if err != nil {
		renderPageError(c, err)
		return
	}
	if category == nil {
		renderNotFoundPage(c, "There is no such category on this instance.")
		return
	}
	c.HTML(http.StatusOK, "category.html", CategoryPageData{
		Title:    category.Name,
		Category: category,
	})
}

func (h *handlers) listing(c *gin.Context) {
	id := h.fed.ListingId(c.Param("id"))
	listing, err := activitypub.ResolveListing(c.Request.Context(), h.fed, id)
	if err != nil {
		renderError(c, err)
		return
	}
	if listing == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
		return
	}
	renderObject(c, http.StatusOK, activitypub.ListingObjectFrom(listing))
}

func (h *handlers) listingPage(c *gin.Context) {
	ctx := c.Request.Context()
	id := h.fed.ListingId(c.Param("id"))
	listing, err := activitypub.ResolveListing(ctx, h.fed, id)
	if err != nil {
		renderPageError(c, err)
		return
	}
	if listing == nil {
		renderNotFoundPage(c, "There is no such listing on this instance.")
		return
	}

	data := ListingPageData{Title: listing.Title, Listing: listing}
	if data.Author, err = activitypub.ResolveActor(ctx, h.fed, listing.AttributedTo); err != nil {
		log.Warnf("Listing page %s: author %s: %v", id, listing.AttributedTo, err)
	}
	if listing.Category != "" {
		if data.Category, err = activitypub.ResolveCategory(ctx, h.fed, listing.Category); err != nil {
			log.Warnf("Listing page %s: category %s: %v", id, listing.Category, err)
		}
	}
	c.HTML(http.StatusOK, "listing.html", data)
}
