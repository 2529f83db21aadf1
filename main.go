package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/hutgate/activitypub"
	"github.com/deemkeen/hutgate/cache"
	"github.com/deemkeen/hutgate/db"
	"github.com/deemkeen/hutgate/ingest"
	"github.com/deemkeen/hutgate/origin"
	"github.com/deemkeen/hutgate/util"
	"github.com/deemkeen/hutgate/web"
	"github.com/nats-io/nats.go"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const pruneInterval = time.Hour

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config.yaml")
	debug := pflag.Bool("debug", false, "enable debug logging")
	pflag.Parse()

	conf, err := util.ReadConf(*configPath)
	if err != nil {
		log.Fatal("Could not read configuration", "err", err)
	}

	log.SetReportTimestamp(true)
	if level, err := log.ParseLevel(conf.Conf.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.Warnf("Unknown log level %q, keeping info", conf.Conf.LogLevel)
	}
	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	nc, err := nats.Connect(strings.Join(conf.Nats.Hosts, ","),
		nats.Name(util.GetNameAndVersion()),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Infof("NATS reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		log.Fatal("Could not connect to NATS", "hosts", conf.Nats.Hosts, "err", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		log.Fatal("JetStream unavailable", "err", err)
	}
	if err := ingest.Provision(js, conf.Nats); err != nil {
		log.Fatal("Could not provision streams", "err", err)
	}

	objects := openCache(ctx, conf)
	defer objects.Close()

	log.Print("Running database migrations...")
	ledger, err := db.Open(util.ResolveFilePath(conf.Conf.Database))
	if err != nil {
		log.Fatal("Could not open activity ledger", "err", err)
	}
	defer ledger.Close()
	log.Print("Database migrations complete")

	client := origin.NewClient(nc, conf.Origin)
	fed := activitypub.NewFederation(conf, activitypub.Services{
		Users:      client,
		Categories: client,
		Listings:   client,
		Cache:      objects,
		Ledger:     ledger,
		Queue:      ingest.NewJetStreamQueue(js, conf.Nats.Delivery.Subject),
	})

	if _, err := activitypub.EnsureSystemActor(ctx, fed); err != nil {
		log.Fatal("Could not provision system actor", "err", err)
	}

	srv := web.NewServer(conf, web.Router(fed, conf, ledger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(background(gctx, "Delivery worker", ingest.NewDeliveryWorker(fed, js, conf.Nats).Run))
	g.Go(background(gctx, "Ingest consumers", ingest.NewConsumers(js, conf.Nats.Jetstream, ingest.NewHandler(fed)).Run))
	g.Go(func() error {
		pruneLedger(gctx, ledger, conf.Conf.LedgerRetention)
		return nil
	})
	g.Go(func() error {
		return web.Serve(srv)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Print("Stopping server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		log.Error("Gateway stopped with error", "err", err)
	}

	if err := nc.Drain(); err != nil {
		log.Warnf("NATS drain failed: %v", err)
	}
	log.Print("Server stopped")
}

// background runs a task whose failure is logged without stopping the
// server. Only the HTTP server ends the process group.
func background(ctx context.Context, name string, run func(context.Context) error) func() error {
	return func() error {
		if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error(name+" stopped", "err", err)
		}
		return nil
	}
}

func openCache(ctx context.Context, conf *util.AppConfig) cache.Cache {
	if conf.Cache.Dsn == "" {
		log.Info("No cache DSN configured, using in-memory object cache")
		return cache.NewMemoryCache()
	}
	rc, err := cache.OpenRedis(ctx, conf.Cache)
	if err != nil {
		log.Warn("Redis unavailable, falling back to in-memory object cache", "err", err)
		return cache.NewMemoryCache()
	}
	return rc
}

func pruneLedger(ctx context.Context, ledger *db.DB, retention time.Duration) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := ledger.PruneProcessed(ctx, time.Now().Add(-retention))
			if err != nil {
				log.Warnf("Ledger prune failed: %v", err)
				continue
			}
			if n > 0 {
				log.Debugf("Pruned %d processed activities", n)
			}
		}
	}
}
