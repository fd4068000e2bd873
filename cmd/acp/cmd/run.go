package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/acp/internal/adapter/acpclient"
	"github.com/xiaot623/gogo/acp/internal/domain"
)

var (
	runAsync   bool
	runVerbose bool
)

var runCmd = &cobra.Command{
	Use:   "run [agent] [input]",
	Short: "Run an agent and stream its updates",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient(args[0])
		input := domain.Prompt(strings.Join(args[1:], " "))
		out := cmd.OutOrStdout()

		if runAsync {
			run, err := client.Submit(cmd.Context(), input)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Run submitted: %s (%s)\n", run.RunID, run.Status)
			fmt.Fprintf(out, "To follow it, run: acp events %s\n", run.RunID)
			return nil
		}

		res, err := client.Run(cmd.Context(), input, streamOptions(out, runVerbose)...)
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
		if res.Updates == 0 {
			fmt.Fprintln(out, res.Text())
		}
		if runVerbose {
			fmt.Fprintf(out, "[run %s %s]\n", res.Run.RunID, res.Run.Status)
		}
		return nil
	},
}

// streamOptions prints text updates inline as they arrive. Verbose mode also prints
// structured updates and lifecycle events.
func streamOptions(out io.Writer, verbose bool) []acpclient.RunOption {
	opts := []acpclient.RunOption{
		acpclient.OnUpdate(func(u domain.Update) {
			switch {
			case u.Text != "":
				fmt.Fprint(out, u.Text)
			case verbose:
				fmt.Fprintf(out, "\n[%s] %s\n", u.Kind, u.Data)
			}
		}),
	}
	if verbose {
		opts = append(opts, acpclient.OnEvent(func(e domain.Event) {
			if !e.Type.IsUpdate() {
				fmt.Fprintf(out, "[%s]\n", e.Type)
			}
		}))
	}
	return opts
}

func init() {
	runCmd.Flags().BoolVar(&runAsync, "async", false, "submit the run and return without waiting")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "print lifecycle events and structured updates")
	rootCmd.AddCommand(runCmd)
}
