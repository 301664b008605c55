// cmd/backfill replays historical bars from a CSV export through the full
// ingest path, so divergence state and the stored series match what live
// ingestion would have produced.
//
// CSV columns: metric,timeframe,ts,open,high,low,close[,volume]
// ts is unix milliseconds (unix seconds are scaled up automatically).
//
// Usage:
//
//	go run ./cmd/backfill --csv=bars.csv --db=data/bars.db
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"altregime/config"
	"altregime/internal/engine"
	"altregime/internal/model"
	sqlitestore "altregime/internal/store/sqlite"
	"altregime/internal/webhook"
)

const tsMillisFloor = 1_000_000_000_000

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	csvPath := flag.String("csv", "", "Path to CSV bar export")
	dbPath := flag.String("db", "data/bars.db", "Path to SQLite database")
	settingsPath := flag.String("settings", "", "Optional detector settings YAML")
	flag.Parse()

	if *csvPath == "" {
		log.Fatal("[backfill] --csv is required")
	}

	settings, err := config.LoadSettings(*settingsPath)
	if err != nil {
		log.Fatalf("[backfill] settings: %v", err)
	}

	store, err := sqlitestore.Open(*dbPath)
	if err != nil {
		log.Fatalf("[backfill] sqlite open failed: %v", err)
	}
	defer store.Close()

	eng := engine.New(store, store, settings, engine.Options{})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	f, err := os.Open(*csvPath)
	if err != nil {
		log.Fatalf("[backfill] open csv: %v", err)
	}
	defer f.Close()

	var accepted, replaced, rejected, skipped int
	r := csv.NewReader(f)
	line := 0
	for {
		if ctx.Err() != nil {
			log.Println("[backfill] interrupted")
			break
		}
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("[backfill] csv read: %v", err)
		}
		line++
		if line == 1 && strings.EqualFold(record[0], "metric") {
			continue // header
		}

		bar, err := parseBar(record)
		if err != nil {
			log.Printf("[backfill] line %d skipped: %v", line, err)
			skipped++
			continue
		}

		res, err := eng.Ingest(ctx, bar)
		switch {
		case err != nil:
			log.Printf("[backfill] line %d rejected: %v", line, err)
			rejected++
		case res.Replaced:
			replaced++
		default:
			accepted++
		}
	}

	fmt.Printf("backfill complete: %d accepted, %d replaced, %d rejected, %d skipped\n",
		accepted, replaced, rejected, skipped)
}

func parseBar(record []string) (model.Bar, error) {
	if len(record) < 7 {
		return model.Bar{}, fmt.Errorf("want at least 7 columns, got %d", len(record))
	}

	metric := model.Metric(strings.TrimSpace(record[0]))
	if !model.ValidMetric(metric) {
		return model.Bar{}, fmt.Errorf("unknown metric %q", record[0])
	}
	tf, ok := webhook.NormalizeTimeframe(strings.TrimSpace(record[1]))
	if !ok {
		return model.Bar{}, fmt.Errorf("unknown timeframe %q", record[1])
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(record[2]), 10, 64)
	if err != nil {
		return model.Bar{}, fmt.Errorf("ts: %w", err)
	}
	if ts > 0 && ts < tsMillisFloor {
		ts *= 1000
	}

	vals := make([]float64, 4)
	for i := 0; i < 4; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[3+i]), 64)
		if err != nil {
			return model.Bar{}, fmt.Errorf("column %d: %w", 4+i, err)
		}
		vals[i] = v
	}

	bar := model.Bar{
		Metric:    metric,
		Timeframe: tf,
		TS:        ts,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
	}
	if len(record) > 7 && strings.TrimSpace(record[7]) != "" {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[7]), 64)
		if err != nil {
			return model.Bar{}, fmt.Errorf("volume: %w", err)
		}
		bar.Volume = &v
	}
	return bar, nil
}
