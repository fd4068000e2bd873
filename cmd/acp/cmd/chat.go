package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/acp/internal/domain"
)

var chatCmd = &cobra.Command{
	Use:   "chat [agent]",
	Short: "Hold an interactive conversation with an agent",
	Long: `Reads one message per line from stdin and streams the agent's reply.
All messages share one server-side session, so the agent sees the conversation history.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if sessionID == "" {
			sessionID = uuid.New().String()
		}
		client := newClient(args[0])
		if err := client.CheckAgentExists(ctx); err != nil {
			return err
		}

		fmt.Fprintf(out, "Session: %s\n", sessionID)
		fmt.Fprintln(out, "Type a message and press Enter to send.")
		fmt.Fprintln(out, "Commands: /new to start a new session, /quit to exit")

		scanner := bufio.NewScanner(cmd.InOrStdin())
		for {
			fmt.Fprint(out, "> ")
			if !scanner.Scan() {
				return scanner.Err()
			}

			input := strings.TrimSpace(scanner.Text())
			switch input {
			case "":
				continue
			case "/quit":
				fmt.Fprintln(out, "Bye!")
				return nil
			case "/new":
				sessionID = uuid.New().String()
				client = newClient(args[0])
				fmt.Fprintf(out, "Session: %s\n", sessionID)
				continue
			}

			res, err := client.Run(ctx, domain.Prompt(input), streamOptions(out, false)...)
			switch {
			case err == nil:
				if res.Updates == 0 {
					fmt.Fprint(out, res.Text())
				}
				fmt.Fprintln(out)
			case errors.Is(err, domain.ErrAborted) && ctx.Err() != nil:
				fmt.Fprintln(out, "\nInterrupted")
				return nil
			case errors.Is(err, domain.ErrRemoteUnavailable):
				return err
			default:
				fmt.Fprintf(out, "\nError: %v\n", err)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}
