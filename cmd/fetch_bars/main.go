package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"sniperswing/config"
	"sniperswing/internal/adapters/kiteclient"
	"sniperswing/internal/adapters/logger"
	"sniperswing/internal/utils"
)

func main() {
	symbolFlag := flag.String("symbol", "", "trading symbol to fetch (defaults to the first configured instrument)")
	intervalFlag := flag.String("interval", "", "bar interval (defaults to the instrument's configured interval)")
	days := flag.Int("days", 90, "number of calendar days to fetch, ending now")
	outDir := flag.String("out", "data", "output directory for the CSV file")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger, err := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	if err != nil {
		log.Printf("WARN: falling back to default log level: %v", err)
	}
	ctx := context.Background()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel})

	kite, err := kiteclient.New(kiteclient.Config{
		APIKey:               cfg.KiteAPIKey,
		AccessToken:          cfg.KiteAccessToken,
		BaseURL:              cfg.KiteBaseURL,
		WSBaseURL:            cfg.KiteWSBaseURL,
		Logger:               appLogger,
		HTTPTimeout:          cfg.HTTPTimeout,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Kite client: %v", err)
	}

	symbol := *symbolFlag
	interval := *intervalFlag
	if symbol == "" {
		symbol = cfg.Instruments[0].Symbol
	}
	if interval == "" {
		interval = cfg.Instruments[0].BarInterval
		for _, inst := range cfg.Instruments {
			if inst.Symbol == symbol {
				interval = inst.BarInterval
			}
		}
	}

	end := time.Now()
	start := end.AddDate(0, 0, -*days)

	appLogger.Info(ctx, "Fetching bars", map[string]interface{}{
		"symbol":   symbol,
		"interval": interval,
		"from":     start.Format("2006-01-02"),
		"to":       end.Format("2006-01-02"),
	})
	bars, err := kite.GetBarsRange(ctx, symbol, interval, start, end)
	if err != nil {
		appLogger.Error(ctx, err, "Error fetching bars")
		log.Fatalf("Error fetching bars: %v", err)
	}
	appLogger.Info(ctx, "Fetched bars", map[string]interface{}{"count": len(bars)})

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("Error creating output directory: %v", err)
	}
	filename := fmt.Sprintf("%s/%s_%s_%s_to_%s.csv", *outDir, symbol, interval, start.Format("20060102"), end.Format("20060102"))
	if err := utils.WriteBarsToCSV(bars, filename); err != nil {
		appLogger.Error(ctx, err, "Error writing CSV")
		log.Fatalf("Error writing CSV: %v", err)
	}
	appLogger.Info(ctx, "Saved bars", map[string]interface{}{"filename": filename})
}
