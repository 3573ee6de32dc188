package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goswap/marketplace-stats/app"
	"github.com/goswap/marketplace-stats/collector"
	"github.com/goswap/marketplace-stats/config"
	"github.com/robfig/cron/v3"
	"github.com/treeder/gcputils"
)

// Runs the daily price update, by default at 01:00 UTC.
func main() {
	configPath := flag.String("config", "", "path to config file")
	now := flag.Bool("now", false, "run the price update once right away")
	force := flag.Bool("force", false, "with -now, run even if it already ran today")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("couldn't set up clients: %v\n", err)
	}
	defer a.Close()

	if *now {
		if err := updatePrices(ctx, a.Collector, *force); err != nil {
			a.Close()
			log.Fatal(err)
		}
		return
	}

	c := newCron(ctx, a.Collector, cfg.Scheduler.Spec)
	if c == nil {
		a.Close()
		log.Fatalf("bad scheduler.spec %q", cfg.Scheduler.Spec)
	}
	c.Start()
	gcputils.Info().Printf("Scheduler started, price update runs at %q UTC", cfg.Scheduler.Spec)

	<-ctx.Done()
	gcputils.Info().Printf("Shutting down scheduler...")
	// waits for a running update to finish
	<-c.Stop().Done()
}

func newCron(ctx context.Context, col *collector.Collector, spec string) *cron.Cron {
	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(spec, func() {
		if err := updatePrices(ctx, col, false); err != nil {
			gcputils.Error().Printf("price update failed: %v", err)
		}
	})
	if err != nil {
		gcputils.Error().Printf("error parsing schedule %q: %v", spec, err)
		return nil
	}
	return c
}

func updatePrices(ctx context.Context, col *collector.Collector, force bool) error {
	_, err := col.UpdatePrices(ctx, force)
	if errors.Is(err, collector.ErrAlreadyRan) {
		gcputils.Info().Printf("%v", err)
		return nil
	}
	return err
}
