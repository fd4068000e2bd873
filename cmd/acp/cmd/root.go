// Package cmd implements the acp command line client.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/acp/internal/adapter/acpclient"
)

var (
	serverURL string
	sessionID string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:          "acp",
	Short:        "A CLI client for ACP agent servers",
	Long:         `A command-line interface for listing agents, running them with streamed output and watching sessions on an ACP server.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and runs it. An interrupt
// cancels the command's context, which aborts any in-flight run.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "acp: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	defaultURL := os.Getenv("ACP_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8000"
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", defaultURL, "ACP server base URL")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", "", "session id shared by runs")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall request timeout")
}

func newClient(agentName string) *acpclient.Client {
	opts := []acpclient.Option{acpclient.WithTimeout(timeout)}
	if sessionID != "" {
		opts = append(opts, acpclient.WithSessionID(sessionID))
	}
	return acpclient.New(serverURL, agentName, opts...)
}
