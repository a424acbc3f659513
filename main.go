package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"stay-hunter/pkg/auth"
	"stay-hunter/pkg/cache"
	"stay-hunter/pkg/clock"
	"stay-hunter/pkg/config"
	"stay-hunter/pkg/fetch"
	"stay-hunter/pkg/ingest"
	"stay-hunter/pkg/lock"
	"stay-hunter/pkg/mail"
	"stay-hunter/pkg/refresh"
	"stay-hunter/pkg/scheduler"
	"stay-hunter/pkg/store"
	"time"

	"github.com/cockroachdb/errors"
)

// app carries everything the handlers need. It is built once at start-up.
type app struct {
	cfg       config.Config
	store     store.Store
	refresher *refresh.Refresher
	ingester  *ingest.Ingester
	trigger   *scheduler.Trigger
	clock     clock.Clock

	// refresherFor builds the token refresher for an email sync request.
	refresherFor func(refreshToken string) auth.TokenRefresher
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	a, cleanup, err := newApp(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer cleanup()

	port := cfg.Server.Port
	ip := GetOutboundIP()
	if ip != nil {
		fmt.Printf("Local Network URL: http://%s:%s\n", ip.String(), port)
	} else {
		fmt.Println("Could not determine local IP address.")
	}
	fmt.Printf("Access URL: http://localhost:%s\n", port)
	fmt.Printf("API Docs: http://localhost:%s/\n", port)

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           newRouter(a),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Fatal(server.ListenAndServe())
}

func newApp(ctx context.Context, cfg config.Config) (*app, func(), error) {
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Printf("Error during shutdown: %v", err)
			}
		}
	}

	st, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	if c, ok := st.(interface{ Close() error }); ok {
		closers = append(closers, c.Close)
	}

	priceCache, err := cache.New(cfg.Cache.Path, cfg.Cache.TTL)
	if err != nil {
		cleanup()
		return nil, nil, errors.Wrap(err, "failed to initialize cache")
	}
	closers = append(closers, priceCache.Close)
	log.Printf("Cache initialized at %s with TTL %s", cfg.Cache.Path, cfg.Cache.TTL)

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Redis.Addr != "" {
		client, err := lock.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, client.Close)
		locker = lock.NewRedisLocker(client, cfg.Redis.LockTTL)
		log.Printf("Run locks held in redis at %s", cfg.Redis.Addr)
	}

	var fetcher fetch.Fetcher
	switch cfg.Refresh.Fetcher {
	case "browser":
		fetcher = fetch.NewBrowserFetcher(cfg.Refresh.FetchTimeout)
	default:
		fetcher = fetch.NewHTTPFetcher(cfg.Refresh.FetchTimeout, cfg.Refresh.RequestsPerSecond)
	}

	mailFactory := mail.GmailFactory(cfg.Ingest.CallTimeout, cfg.Google.MailEndpoint)

	a := &app{
		cfg:       cfg,
		store:     st,
		refresher: refresh.New(cfg.RefreshSettings(), st, fetcher, priceCache, locker),
		ingester:  ingest.New(cfg.Ingest, st, mailFactory, locker),
		trigger:   scheduler.New(cfg.Scheduler.RefreshURL, cfg.Scheduler.Secret),
		clock:     clock.NewRealClock(),
	}
	a.refresherFor = func(refreshToken string) auth.TokenRefresher {
		return auth.For(cfg.Google.ClientID, cfg.Google.ClientSecret, refreshToken)
	}
	return a, cleanup, nil
}

func openStore(cfg config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "supabase":
		st, err := store.NewSupabaseStore(cfg.Supabase.URL, cfg.Supabase.ServiceKey, cfg.Supabase.Table)
		if err != nil {
			return nil, errors.Wrap(err, "failed to connect to supabase")
		}
		log.Printf("Bookings stored in supabase table %s", cfg.Supabase.Table)
		return st, nil
	default:
		st, err := store.NewSQLiteStore(cfg.Store.SQLitePath)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open booking store")
		}
		log.Printf("Bookings stored in sqlite at %s", cfg.Store.SQLitePath)
		return st, nil
	}
}

func GetOutboundIP() net.IP {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		addrs, _ := net.InterfaceAddrs()
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					return ipnet.IP
				}
			}
		}
		return nil
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	return localAddr.IP
}
