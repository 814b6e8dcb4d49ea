package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/krakend/content-sync/internal/config"
	"github.com/krakend/content-sync/tools"
)

const (
	version     = "0.1.0"
	serverName  = "content-sync"
	description = "MCP server to run and inspect CMS-to-search-index sync jobs"

	configEnv     = "CONTENT_SYNC_CONFIG"
	defaultConfig = "content-sync.json"
)

func main() {
	// Handle version flag
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("%s version %s\n", serverName, version)
		os.Exit(0)
	}

	// Set up logging to stderr (MCP uses stdout for protocol)
	log.SetOutput(os.Stderr)
	log.Printf("%s v%s starting...", serverName, version)

	ctx := context.Background()

	configPath := configPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration %s: %v", configPath, err)
	}
	log.Printf("✓ Configuration loaded: %s (%s backend, %d jobs)", configPath, cfg.Index.Backend, len(cfg.Jobs))

	rt, err := cfg.Build(ctx, config.BuildOptions{})
	if err != nil {
		log.Fatalf("Failed to initialize sync runtime: %v", err)
	}

	// Set up cleanup on shutdown
	defer func() {
		if err := rt.Close(); err != nil {
			log.Printf("Error closing sync runtime: %v", err)
		}
	}()

	server := createMCPServer()
	tools.Register(server, tools.NewService(rt))

	log.Printf("✓ Server ready and waiting for connections")

	// Run server with stdio transport
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		log.Printf("Server error: %v", err)
	}
}

// configPath prefers the first argument, then the environment
func configPath() string {
	if len(os.Args) > 1 {
		return os.Args[1]
	}
	if p := os.Getenv(configEnv); p != "" {
		return p
	}
	return defaultConfig
}

// createMCPServer initializes the MCP server
func createMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    serverName,
			Version: version,
		},
		&mcp.ServerOptions{Instructions: description},
	)

	log.Printf("Server initialized: %s v%s", serverName, version)
	return server
}
