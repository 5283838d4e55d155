package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"backtester/internal/config"
	"backtester/internal/domain"
	"backtester/internal/gather"
	"backtester/internal/quotes"
	"backtester/internal/store"
	"backtester/internal/util"
)

func main() {
	tickersFlag := flag.String("tickers", "", "comma-separated tickers (default: gather.tickers, then every cached ticker)")
	startFlag := flag.String("start", "", "first date to cache, YYYY-MM-DD (default: gather.start_date)")
	logFlag := flag.String("log-file", "", "also write logs to this file")
	flag.Parse()

	cfg, err := config.LoadOrDefault(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var w io.Writer = os.Stdout
	if *logFlag != "" {
		f, err := os.OpenFile(*logFlag, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatalf("failed to open log file: %v", err)
		}
		defer f.Close()
		w = io.MultiWriter(os.Stdout, f)
	}
	logger := util.NewLoggerTo(w, cfg.Logging.Level, "text")
	util.SetDefault(logger)

	startStr := cfg.Gather.StartDate
	if *startFlag != "" {
		startStr = *startFlag
	}
	start, err := domain.ParseDate(startStr)
	if err != nil {
		log.Fatalf("parsing start date %q: %v", startStr, err)
	}

	pstore := store.NewParquetStore(cfg.Storage.DataDir)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tickers := cfg.Gather.Tickers
	if *tickersFlag != "" {
		tickers = strings.Split(*tickersFlag, ",")
	}
	if len(tickers) == 0 {
		if tickers, err = pstore.ListTickers(ctx); err != nil {
			log.Fatalf("listing cached tickers: %v", err)
		}
	}
	if len(tickers) == 0 {
		log.Fatal("no tickers: set gather.tickers or pass -tickers")
	}

	cfg.Quotes.Cache = true
	_, cached, err := quotes.Stack(cfg, pstore, nil)
	if err != nil {
		log.Fatalf("configuring quotes: %v", err)
	}

	endDate := gather.WeekdayCalendar()
	if cfg.Alpaca.HasCredentials() {
		endDate = gather.AlpacaCalendar(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
	}

	warmer := gather.NewCacheWarmer(cached, tickers, start, endDate,
		filepath.Join(cfg.Storage.DataDir, "quotes"), cfg.Gather.MaxWorkers, cfg.Gather.RateLimitPerMin)

	logger.Info("starting quote-gather", "tickers", len(tickers), "start", startStr, "provider", cached.Name())
	runStart := time.Now()
	res, err := warmer.Warm(ctx)
	if err != nil {
		log.Fatalf("%s: %v", warmer.Name(), err)
	}
	if res.Skipped {
		fmt.Printf("cache already warm through %s\n", res.End.Format(domain.DateLayout))
		return
	}
	fmt.Printf("warmed %d tickers (%s quotes) through %s in %s; %d without data, %d failed\n",
		res.Warmed, humanize.Comma(res.Quotes), res.End.Format(domain.DateLayout),
		time.Since(runStart).Round(time.Second), res.NoQuotes, res.Failed)
	if res.Failed > 0 {
		os.Exit(1)
	}
}
