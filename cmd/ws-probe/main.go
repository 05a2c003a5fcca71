package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ismaiel54/trading-alert-engine/internal/logging"
	"github.com/ismaiel54/trading-alert-engine/internal/protocol"
	"go.uber.org/zap"
)

// ws-probe connects to a running engine, subscribes, and checks the
// stream it receives: per-kind counts, duplicate alert IDs, and
// timestamp ordering within the connection.
func main() {
	var (
		url        = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket endpoint")
		duration   = flag.Duration("duration", 30*time.Second, "How long to listen")
		channels   = flag.String("channels", "alerts,ticks", "Channels to subscribe to")
		instrument = flag.String("instrument", "", "Restrict subscriptions to one instrument (empty = all)")
	)
	flag.Parse()

	logger, err := logging.NewLogger("ws-probe", "info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting ws-probe",
		zap.String("url", *url),
		zap.Duration("duration", *duration),
		zap.String("channels", *channels),
		zap.String("instrument", *instrument),
	)

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatal("failed to connect", zap.Error(err))
	}
	defer conn.Close()

	for _, ch := range strings.Split(*channels, ",") {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			continue
		}
		raw, err := protocol.Encode(protocol.KindSubscribe, protocol.SubscribePayload{
			Channel:      ch,
			InstrumentID: *instrument,
		}, time.Now())
		if err != nil {
			logger.Fatal("failed to encode subscribe", zap.Error(err))
		}
		if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			logger.Fatal("failed to send subscribe", zap.Error(err))
		}
	}

	kindCounts := make(map[protocol.Kind]int)
	alertCounts := make(map[string]int)
	var lastTs time.Time
	ordering := true
	deadline := time.Now().Add(*duration)

	for time.Now().Before(deadline) {
		conn.SetReadDeadline(deadline)
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !strings.Contains(err.Error(), "timeout") {
				logger.Warn("read error", zap.Error(err))
			}
			break
		}

		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logger.Warn("failed to unmarshal envelope", zap.Error(err))
			continue
		}

		kindCounts[env.Kind]++
		if !env.Timestamp.IsZero() {
			if env.Timestamp.Before(lastTs) {
				ordering = false
				logger.Warn("timestamp regression",
					zap.String("kind", string(env.Kind)),
					zap.Time("timestamp", env.Timestamp),
					zap.Time("previous", lastTs),
				)
			}
			lastTs = env.Timestamp
		}

		if env.Kind == protocol.KindAlert {
			var alert protocol.AlertPayload
			if err := json.Unmarshal(env.Data, &alert); err != nil {
				logger.Warn("failed to unmarshal alert", zap.Error(err))
				continue
			}
			alertCounts[alert.AlertID]++
			logger.Debug("alert received",
				zap.String("alert_id", alert.AlertID),
				zap.String("rule_id", alert.RuleID),
				zap.String("instrument", alert.InstrumentID),
				zap.Float64("triggered_value", alert.TriggeredValue),
			)
		}
	}

	total := 0
	for _, n := range kindCounts {
		total += n
	}
	duplicates := make(map[string]int)
	for id, n := range alertCounts {
		if n > 1 {
			duplicates[id] = n
		}
	}

	fmt.Println("\n=== Probe Results ===")
	fmt.Printf("Total messages: %d\n", total)
	for _, kind := range []protocol.Kind{
		protocol.KindConnectionStatus,
		protocol.KindSubscriptionAck,
		protocol.KindTickUpdate,
		protocol.KindAlert,
		protocol.KindAnalyticsUpdate,
		protocol.KindError,
	} {
		if n := kindCounts[kind]; n > 0 {
			fmt.Printf("  %s: %d\n", kind, n)
		}
	}
	fmt.Printf("Unique alert IDs: %d\n", len(alertCounts))
	fmt.Printf("Duplicate alert IDs: %d\n", len(duplicates))

	failed := false
	if len(duplicates) > 0 {
		fmt.Println("\nDuplicates found:")
		for id, n := range duplicates {
			fmt.Printf("  Alert ID: %s, Count: %d\n", id, n)
		}
		failed = true
	}
	if !ordering {
		fmt.Println("\nTimestamp ordering violated within the connection")
		failed = true
	}

	if failed {
		fmt.Println("\n❌ PROBE FAILED")
		os.Exit(1)
	}
	fmt.Println("\n✅ PROBE PASSED")
}
