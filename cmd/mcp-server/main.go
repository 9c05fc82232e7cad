package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/eshaffer321/ig-go/pkg/ig"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func main() {
	// stdout carries the MCP protocol, so logs go to stderr
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	// Credentials and quotas come from IG_* environment variables
	client, err := ig.NewClientFromEnv(logger)
	if err != nil {
		log.Fatalf("failed to initialize IG client: %v", err)
	}
	defer client.Close()

	impl := &mcp.Implementation{
		Name:    "ig-markets",
		Version: "1.0.0",
	}

	server := mcp.NewServer(impl, nil)

	registerTools(server, client)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Run server over stdio transport (for Claude Desktop)
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		log.Printf("server error: %v", err)
	}
}

func registerTools(server *mcp.Server, client *ig.Client) {
	tools := &igTools{client: client}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_markets",
		Description: "Search IG markets by name or symbol. Returns epics, instrument names, types, market status and current bid/offer.",
	}, tools.SearchMarkets)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_market_details",
		Description: "Get instrument details, current snapshot prices and dealing rules for up to 50 markets by epic.",
	}, tools.GetMarketDetails)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_historical_prices",
		Description: "Get historical candles for a market epic at a resolution such as MINUTE, HOUR or DAY between two dates.",
	}, tools.GetHistoricalPrices)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_market_hierarchy",
		Description: "Walk the market navigation tree below a node (or the root) and return the markets found. Nodes that could not be fetched are listed separately. Walking from the root issues many rate-limited requests.",
	}, tools.GetMarketHierarchy)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_session",
		Description: "Get the current IG session: account, client, auth scheme and expiry. Logs in if needed.",
	}, tools.GetSession)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_rate_limits",
		Description: "Get usage of the client's rate limiters: effective quota, requests in the current window and remaining capacity.",
	}, tools.GetRateLimits)
}
