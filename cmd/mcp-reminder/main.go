// Command mcp-reminder exposes the reminder database over MCP.
//
// It lets an MCP client inspect and manage the reminders the assistant
// created: list them per user, find due ones, acknowledge, cancel, snooze
// or delete them.
//
// Usage:
//
//	./mcp-reminder                  # Start MCP server (stdio)
//	./mcp-reminder --config FILE    # Use a specific config file
//	./mcp-reminder --help           # Show help
//
// Environment:
//
//	REMINDME_STORE__PATH  Path to SQLite database (default: ~/.remindme/reminders.db)
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	_ "time/tzdata"

	"github.com/mark3labs/mcp-go/server"

	"github.com/notexe/remindme/internal/config"
	"github.com/notexe/remindme/internal/reminder"
)

func main() {
	configPath := flag.String("config", config.GetDefaultConfigPath(), "Path to configuration file")
	help := flag.Bool("help", false, "Show help")
	flag.Parse()

	if *help {
		printHelp()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.Store.Path == "" {
		fmt.Fprintln(os.Stderr, "store.path is required")
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create data directory: %v\n", err)
		os.Exit(1)
	}

	store, err := reminder.NewStore(cfg.Store.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	s := reminder.NewServer(store)

	if err := server.ServeStdio(s.MCPServer()); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println(`MCP Reminder Server - manage assistant reminders via MCP

USAGE:
    mcp-reminder                 Start MCP server (communicates via stdio)
    mcp-reminder --config FILE   Read store.path from FILE
    mcp-reminder --help          Show this help

ENVIRONMENT:
    REMINDME_STORE__PATH  Path to SQLite database file
                          Default: ~/.remindme/reminders.db

TOOLS:
    list_reminders        List a user's reminders (phone, optional status)
    get_due_reminders     Pending reminders that are due or overdue
    acknowledge_reminder  Mark a reminder as acknowledged
    cancel_reminder       Cancel a reminder before it is delivered
    snooze_reminder       Push a pending reminder forward (minutes, default 30)
    delete_reminder       Delete a reminder permanently

CONFIGURATION:
    Example MCP client entry:
    {
      "mcpServers": {
        "reminder": {
          "command": "/path/to/mcp-reminder",
          "args": []
        }
      }
    }`)
}
