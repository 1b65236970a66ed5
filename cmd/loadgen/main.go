// Command loadgen drives simulated visitors against the collection API. Each
// visitor runs a real Collector with the ticker scheduler, so flush cadence,
// terminal beacons and geolocation follow production behavior.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/iamgideonidoko/pulse/internal/config"
	"github.com/iamgideonidoko/pulse/pkg/collector"
	"github.com/iamgideonidoko/pulse/pkg/logger"
)

type visit struct {
	profile  profile
	userID   *string
	duration time.Duration
	bot      bool
}

func main() {
	_ = godotenv.Load()

	visitors := flag.Int("visitors", 20, "number of simulated visitors")
	concurrency := flag.Int("concurrency", 5, "visitors running at once")
	maxDuration := flag.Duration("max-duration", 2*time.Minute, "longest simulated visit")
	botShare := flag.Float64("bot-share", 0.1, "fraction of visitors behaving like bots")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", map[string]any{"error": err.Error()})
	}
	logger.Init("pulse-loadgen", logger.ParseLevel(cfg.Monitoring.LogLevel), cfg.Monitoring.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport := collector.NewHTTPTransport(cfg.Collector.Endpoint, 10*time.Second)
	beacon := collector.NewBeaconTransport(cfg.Collector.Endpoint, cfg.Collector.TerminalTimeout)
	geolocator := collector.NewHTTPGeolocator(cfg.Collector.Endpoint, cfg.Collector.GeolocationTimeout)

	var consent collector.ConsentSource = collector.NewConsentFlag(true)
	if cfg.Collector.ConsentFile != "" {
		consent = collector.FileConsent{Path: cfg.Collector.ConsentFile}
	}

	logger.Info("Starting load generation", map[string]any{
		"endpoint":    cfg.Collector.Endpoint,
		"visitors":    *visitors,
		"concurrency": *concurrency,
	})

	span := max(*maxDuration-5*time.Second, time.Second)

	var completed atomic.Int64
	jobs := make(chan visit)
	var wg sync.WaitGroup
	for range max(*concurrency, 1) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for v := range jobs {
				run(ctx, v, collector.Options{
					Transport:          transport,
					Beacon:             beacon,
					Geolocator:         geolocator,
					Consent:            consent,
					FlushInterval:      cfg.Collector.FlushInterval,
					GeolocationTimeout: cfg.Collector.GeolocationTimeout,
				})
				completed.Add(1)
			}
		}()
	}

dispatch:
	for i := range *visitors {
		v := visit{
			profile:  profiles[rand.IntN(len(profiles))],
			duration: time.Duration(rand.Int64N(int64(span))) + 5*time.Second,
			bot:      rand.Float64() < *botShare,
		}
		if i%3 == 0 {
			uid := fmt.Sprintf("user-%d", rand.IntN(50))
			v.userID = &uid
		}
		if v.bot {
			v.profile = profiles[len(profiles)-1]
			v.duration = 5 * time.Second
		}
		select {
		case jobs <- v:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()
	transport.Wait()

	logger.Info("Load generation finished", map[string]any{
		"visits":          completed.Load(),
		"failed_requests": transport.Failures(),
	})
}

// run plays one visit until its deadline.
func run(ctx context.Context, v visit, opts collector.Options) {
	scheduler := collector.NewTickerScheduler()
	opts.Scheduler = scheduler
	opts.Fingerprinter = v.profile.generator()
	opts.Page = collector.Page{URL: "https://shop.example/", Title: "Home"}

	c := collector.New(opts)
	if err := c.Start(ctx, v.userID); err != nil {
		logger.Warn("Visitor failed to start", map[string]any{"error": err.Error()})
		return
	}
	defer scheduler.Teardown()

	deadline := time.NewTimer(v.duration)
	defer deadline.Stop()

	step := 3 * time.Second
	if v.bot {
		step = 100 * time.Millisecond
	}
	ticker := time.NewTicker(step)
	defer ticker.Stop()

	var b browsing
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-ticker.C:
			if v.bot {
				b.crawl(c)
			} else {
				b.read(c)
			}
		}
	}
}

// actions is the part of the Collector a visitor drives.
type actions interface {
	RecordClick()
	RecordScroll(scrollY, documentHeight, viewportHeight float64)
	RecordPageView(page collector.Page)
}

const documentHeight, viewportHeight = 4000.0, 900.0

type browsing struct {
	scrollY float64
	pages   int
}

// read is one human step: scroll, click or move on to the catalog.
func (b *browsing) read(a actions) {
	switch n := rand.IntN(10); {
	case n < 5:
		b.scrollY = min(b.scrollY+rand.Float64()*600, documentHeight)
		a.RecordScroll(b.scrollY, documentHeight, viewportHeight)
	case n < 8:
		a.RecordClick()
	default:
		b.scrollY = 0
		a.RecordPageView(collector.Page{URL: "https://shop.example/catalog", Title: "Catalog", Referrer: "https://shop.example/"})
	}
}

// crawl is one bot step: a new product page with no scrolling and no clicks,
// which keeps the engagement score near zero while page views pile up.
func (b *browsing) crawl(a actions) {
	b.pages++
	a.RecordPageView(collector.Page{URL: fmt.Sprintf("https://shop.example/p/%d", b.pages), Title: "Product"})
}
