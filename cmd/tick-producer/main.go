package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ismaiel54/trading-alert-engine/internal/logging"
	"github.com/ismaiel54/trading-alert-engine/internal/market"
	"go.uber.org/zap"
)

func main() {
	var (
		count       = flag.Int("count", 100, "Number of ticks to produce")
		burstPct    = flag.Int("burst-pct", 0, "Percentage of ticks repeated immediately (0-100), for debounce demos")
		seed        = flag.Int64("seed", 42, "Random seed for deterministic generation")
		brokers     = flag.String("brokers", "127.0.0.1:9092", "Kafka broker addresses")
		topic       = flag.String("topic", "market.ticks", "Topic to produce to")
		instruments = flag.String("instruments", "AAPL,MSFT,BTC-USD", "Comma-separated instrument list")
		interval    = flag.Duration("interval", 10*time.Millisecond, "Delay between ticks")
		indicators  = flag.Bool("indicators", false, "Attach synthetic rsi_14 and sma_50 indicator values")
	)
	flag.Parse()

	logger, err := logging.NewLogger("tick-producer", "info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	brokerList := parseBrokers(*brokers)
	symbols := parseBrokers(*instruments)
	if len(symbols) == 0 {
		logger.Fatal("no instruments given")
	}

	logger.Info("starting tick producer",
		zap.Int("count", *count),
		zap.Int("burst_pct", *burstPct),
		zap.Int64("seed", *seed),
		zap.Strings("brokers", brokerList),
		zap.String("topic", *topic),
		zap.Strings("instruments", symbols),
	)

	producer, err := market.NewProducer(brokerList, logger)
	if err != nil {
		logger.Fatal("failed to create producer", zap.Error(err))
	}
	defer producer.Close()

	// Deterministic RNG; each instrument random-walks around its base
	rng := rand.New(rand.NewSource(*seed))
	prices := make(map[string]float64, len(symbols))
	for i, sym := range symbols {
		prices[sym] = 100.0 + float64(i)*50.0
	}

	ctx := context.Background()
	produced := 0
	failed := 0
	bursts := 0

	for i := 0; i < *count; i++ {
		sym := symbols[rng.Intn(len(symbols))]
		prices[sym] += (rng.Float64() - 0.5) * 2.0
		if prices[sym] < 1.0 {
			prices[sym] = 1.0
		}

		tick := market.TickMsg{
			EventID:      uuid.New().String(),
			Instrument:   sym,
			Price:        prices[sym],
			Volume:       float64(10 + rng.Intn(990)),
			TsUnixMillis: time.Now().UnixMilli(),
		}
		if *indicators {
			tick.Indicators = map[string]float64{
				"rsi_14": 20.0 + rng.Float64()*60.0,
				"sma_50": prices[sym] * (0.95 + rng.Float64()*0.1),
			}
		}

		repeats := 1
		if *burstPct > 0 && rng.Intn(100) < *burstPct {
			// Re-send the same observation with a fresh event id so
			// downstream debounce has something to collapse
			repeats = 2 + rng.Intn(3)
			bursts++
		}

		for r := 0; r < repeats; r++ {
			msg := tick
			if r > 0 {
				msg.EventID = uuid.New().String()
			}
			if err := producer.ProduceJSON(ctx, *topic, msg.Instrument, msg); err != nil {
				logger.Error("failed to produce tick",
					zap.String("instrument", msg.Instrument),
					zap.Error(err),
				)
				failed++
				continue
			}
			produced++
			logger.Debug("produced tick",
				zap.String("instrument", msg.Instrument),
				zap.Float64("price", msg.Price),
				zap.String("event_id", msg.EventID),
			)
		}

		if *interval > 0 {
			time.Sleep(*interval)
		}
	}

	logger.Info("tick producer completed",
		zap.Int("requested", *count),
		zap.Int("produced", produced),
		zap.Int("failed", failed),
		zap.Int("bursts", bursts),
	)

	fmt.Printf("\n=== Tick Producer Summary ===\n")
	fmt.Printf("Requested ticks: %d\n", *count)
	fmt.Printf("Produced: %d\n", produced)
	fmt.Printf("Failed: %d\n", failed)
	fmt.Printf("Burst repeats: %d\n", bursts)
	fmt.Printf("Topic: %s\n", *topic)
	fmt.Printf("\n")

	if failed > 0 {
		os.Exit(1)
	}
}

func parseBrokers(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
