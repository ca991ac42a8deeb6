// streamtest connects to a running gateway and streams messages to the
// console.
//
// Usage:
//
//	go run ./cmd/streamtest --url ws://localhost:8080/stream \
//	    --subscribe orderbook:btc-usdt,trade:btc-usdt
//
// Private channels need credentials: either --token (bearer) or
// --api-key/--api-secret (HMAC, signed locally).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tradekit/stream-gateway/internal/auth"
	"github.com/tradekit/stream-gateway/internal/model"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/stream", "gateway stream URL")
	subscribe := flag.String("subscribe", "trade", "comma-separated channels (topic or topic:symbol)")
	token := flag.String("token", "", "bearer token for private channels")
	apiKey := flag.String("api-key", "", "HMAC API key")
	apiSecret := flag.String("api-secret", "", "HMAC API secret")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	logger.Info("dialing gateway", "url", *url)
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, *url, nil)
	if err != nil {
		logger.Error("dial failed", "error", err)
		os.Exit(1)
	}
	defer ws.Close()

	// Authenticate if credentials were given.
	if *token != "" || *apiKey != "" {
		creds := auth.Credentials{}
		if *token != "" {
			creds.Authorization = "Bearer " + *token
		} else {
			expires := time.Now().Add(time.Minute).Unix()
			creds.APIKey = *apiKey
			creds.APISignature = auth.Sign(*apiSecret, auth.HmacMethod, auth.HmacPath, expires)
			creds.APIExpires = strconv.FormatInt(expires, 10)
		}

		args, _ := json.Marshal(creds)
		if err := ws.WriteJSON(model.OpMessage{Op: model.OpAuth, Args: args}); err != nil {
			logger.Error("auth write failed", "error", err)
			os.Exit(1)
		}
	}

	channels := strings.Split(*subscribe, ",")
	args, _ := json.Marshal(channels)
	if err := ws.WriteJSON(model.OpMessage{Op: model.OpSubscribe, Args: args}); err != nil {
		logger.Error("subscribe write failed", "error", err)
		os.Exit(1)
	}
	logger.Info("subscribed", "channels", channels)

	// Close the socket on shutdown so the read loop unblocks.
	go func() {
		<-ctx.Done()
		ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutdown complete")
				return
			}
			logger.Error("read failed", "error", err)
			os.Exit(1)
		}

		if *verbose {
			var pretty json.RawMessage = data
			out, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Printf("%s\n", out)
			continue
		}

		var n model.Notification
		if json.Unmarshal(data, &n) == nil && n.Message != "" {
			fmt.Printf("[NOTICE] %s\n", n.Message)
			continue
		}

		var ev model.HubEvent
		if json.Unmarshal(data, &ev) == nil && ev.Topic != "" {
			fmt.Printf("[%s] symbol=%s action=%s bytes=%d\n",
				strings.ToUpper(ev.Topic), ev.Symbol, ev.Action, len(ev.Data))
			continue
		}

		fmt.Printf("[RAW] %s\n", data)
	}
}
