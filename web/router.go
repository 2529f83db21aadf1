// Package web serves the federation endpoints of the gateway: WebFinger,
// actors, inboxes, collections and objects, plus an RSS view of listings.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/hutgate/activitypub"
	"github.com/deemkeen/hutgate/domain"
	"github.com/deemkeen/hutgate/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/time/rate"
)

//go:embed templates/*.html
var templateFS embed.FS

const maxInboxBody = 1 * 1024 * 1024 // 1MB

// ActivityLog lists recently recorded activities for the instance feed.
type ActivityLog interface {
	ReadRecentActivities(ctx context.Context, limit int) ([]domain.ActivityRecord, error)
}

type handlers struct {
	fed        *activitypub.Federation
	conf       *util.AppConfig
	activities ActivityLog
}

// Router builds the gin engine for fed. activities may be nil, in which case
// the instance feed is not served.
func Router(fed *activitypub.Federation, conf *util.AppConfig, activities ActivityLog) *gin.Engine {
	h := &handlers{fed: fed, conf: conf, activities: activities}

	g := gin.New()
	g.Use(gin.Recovery(), RequestLogger())
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	g.SetHTMLTemplate(template.Must(template.New("").Funcs(template.FuncMap{
		"date": func(t time.Time) string { return t.Format(util.DateTimeFormat()) },
	}).ParseFS(templateFS, "templates/*.html")))

	// Stricter rate limit for inbox deliveries: 5 req/sec per IP
	inboxLimiter := NewRateLimiter(rate.Limit(5), 10)
	maxBodySize := MaxBytesMiddleware(maxInboxBody)

	g.GET("/health", h.health)
	g.GET("/.well-known/webfinger", h.webfinger)

	g.GET("/users/:name", DispatchByAccept(h.actor, h.profile))
	g.GET("/users/:name/followers", h.followers)
	g.GET("/users/:name/following", h.following)
	g.GET("/users/:name/outbox", h.outbox)
	g.POST("/users/:name/inbox", RateLimitMiddleware(inboxLimiter), maxBodySize, h.userInbox)
	g.POST("/inbox", RateLimitMiddleware(inboxLimiter), maxBodySize, h.sharedInbox)

	g.GET("/categories/:name", DispatchByAccept(h.category, h.categoryPage))
	g.GET("/listings/:id", DispatchByAccept(h.listing, h.listingPage))

	g.GET("/feed", h.feed)

	return g
}

// NewServer wraps handler in an http.Server listening on the configured
// host and port. With autocert enabled the server carries a TLS config
// backed by ACME certificates for the instance domain.
func NewServer(conf *util.AppConfig, handler http.Handler) *http.Server {
	addr := fmt.Sprintf("%s:%d", conf.Conf.Host, conf.Conf.HttpPort)
	log.Infof("Starting federation server on %s for %s", addr, conf.Conf.SslDomain)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	if conf.Conf.Autocert {
		m := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(conf.Conf.SslDomain),
			Cache:      autocert.DirCache(util.ResolveFilePath(conf.Conf.CertCache)),
		}
		srv.TLSConfig = m.TLSConfig()
	}
	return srv
}

// Serve blocks until srv stops. A clean shutdown returns nil.
func Serve(srv *http.Server) error {
	var err error
	if srv.TLSConfig != nil {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": util.GetVersion(),
	})
}

// renderObject writes v as an ActivityStreams document.
func renderObject(c *gin.Context, status int, v any) {
	body, err := activitypub.MarshalWithContext(v)
	if err != nil {
		log.Errorf("Failed to encode %T: %v", v, err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(status, activitypub.ContentType+"; charset=utf-8", body)
}

func renderNotFoundPage(c *gin.Context, message string) {
	c.HTML(http.StatusNotFound, "notfound.html", gin.H{"Title": "Not Found", "Message": message})
}

// renderPageError is renderError for browser routes.
func renderPageError(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.HTML(status, "notfound.html", gin.H{"Title": http.StatusText(status), "Message": "This page could not be loaded."})
}

// renderError maps a federation error to its status code.
func renderError(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"error": http.StatusText(status)})
}
