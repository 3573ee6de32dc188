package main

import (
	"context"
	"flag"
	"log"

	"github.com/goswap/marketplace-stats/app"
	"github.com/goswap/marketplace-stats/config"
	"github.com/treeder/gcputils"
	"github.com/treeder/gotils"
)

/*
One-shot ingest:
1) upload the CSV to the raw/ prefix of the bucket
2) aggregate per day, project and currency, converted to USD
3) replace those days in the daily metrics table
*/
func main() {
	ctx := context.Background()
	configPath := flag.String("config", "", "path to config file")
	dataPath := flag.String("data", "", "CSV to ingest, defaults to data.path from config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *dataPath != "" {
		cfg.Data.Path = *dataPath
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("couldn't set up clients: %v\n", err)
	}
	defer a.Close()

	report, err := a.Collector.Run(ctx, cfg.Data.Path)
	if err != nil {
		gotils.C(ctx).Printf("error on Run: %v", err)
		a.Close()
		log.Fatalln("Pipeline failed")
	}
	gcputils.Info().Printf("Pipeline completed successfully! %v groups loaded from %v, %v without a price",
		report.Metrics, report.Source, report.Unpriced)
}
