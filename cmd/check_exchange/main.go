package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vitos/signal_trader/internal/config"
	"github.com/vitos/signal_trader/internal/infrastructure/exchange"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config file")
	symbol := flag.String("symbol", "BTCUSDT", "instrument to check")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Testing %s interaction...\n", cfg.Exchange.Name)
	fmt.Printf("Endpoint: %s\n", cfg.Exchange.RESTEndpoint)
	if len(cfg.Exchange.APIKey) >= 4 {
		fmt.Printf("API Key: %s...\n", cfg.Exchange.APIKey[:4])
	}

	adapter, err := exchange.New(cfg.ExchangeOptions(), zap.NewNop())
	if err != nil {
		fmt.Printf("Failed to init exchange: %v\n", err)
		os.Exit(1)
	}
	instrument := exchange.SymbolNormalizer(cfg.Exchange.Name)(*symbol)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 2. Check Public Endpoint (Price)
	price, err := adapter.GetPrice(ctx, instrument)
	if err != nil {
		fmt.Printf("❌ Failed to get price: %v\n", err)
	} else {
		fmt.Printf("✅ Current Price (%s): %s\n", instrument, price)
	}

	// 3. Check Private Endpoint (Position)
	pos, err := adapter.GetPosition(ctx, instrument)
	if err != nil {
		fmt.Printf("❌ Failed to get position: %v\n", err)
	} else {
		fmt.Printf("✅ Position (%s): Side=%s, Size=%s, Available=%s, Entry=%s\n",
			instrument, pos.Side, pos.Size, pos.Available, pos.EntryPrice)
		for _, leg := range pos.Legs {
			fmt.Printf("   Leg %s: Size=%s, Available=%s\n", leg.Side, leg.Size, leg.Available)
		}
	}

	// 4. Check Balance
	bal, err := adapter.GetAvailableBalance(ctx, cfg.Exchange.MarginCoin)
	if err != nil {
		fmt.Printf("❌ Failed to get balance: %v\n", err)
	} else {
		fmt.Printf("✅ Available %s: %s\n", cfg.Exchange.MarginCoin, bal)
	}
}
