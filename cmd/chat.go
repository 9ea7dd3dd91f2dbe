package cmd

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hatchdata/askdb/internal/config"
	"github.com/hatchdata/askdb/internal/logging"
)

func chatCmd() *cobra.Command {
	var (
		message  string
		threadID string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Ask questions interactively or send a one-shot message",
		Long: `Chat with the assistant via a running gateway (WebSocket client mode).
Falls back to an in-process assistant if the gateway is not running.

Examples:
  askdb chat                                # Interactive REPL
  askdb chat -m "How many apps do we have?" # One-shot question
  askdb chat -t reporting                   # Continue a named thread`,
		Run: func(cmd *cobra.Command, args []string) {
			runChat(message, threadID)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "one-shot message (omit for interactive mode)")
	cmd.Flags().StringVarP(&threadID, "thread", "t", "local", "thread id (conversation identity)")

	return cmd
}

func runChat(message, threadID string) {
	logging.Setup(verbose)
	config.LoadDotenv()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Try client mode first (connect to running gateway).
	host := cfg.Gateway.Host
	if host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	addr := fmt.Sprintf("%s:%d", host, cfg.Gateway.Port)

	if isGatewayRunning(addr) {
		fmt.Fprintf(os.Stderr, "Connected to gateway at %s\n", addr)
		runChatClient(cfg, addr, message, threadID)
		return
	}

	fmt.Fprintln(os.Stderr, "Gateway not running, using local mode")
	runChatLocal(cfg, message, threadID)
}

func isGatewayRunning(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
