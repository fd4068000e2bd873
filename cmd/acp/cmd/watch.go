package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/acp/internal/domain"
)

var watchRaw bool

var watchCmd = &cobra.Command{
	Use:   "watch [session-id]",
	Short: "Watch every run event of a session in real time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Watching session %s. Press Ctrl+C to stop.\n", args[0])

		return newClient("").Watch(cmd.Context(), args[0], func(e domain.Event) {
			if watchRaw {
				printJSON(out, e)
				return
			}
			switch {
			case e.Update != nil && e.Update.Text != "":
				fmt.Fprintf(out, "[%s #%d] %s\n", e.RunID, e.Seq, e.Update.Text)
			case e.Update != nil:
				fmt.Fprintf(out, "[%s #%d] %s %s\n", e.RunID, e.Seq, e.Update.Kind, e.Update.Data)
			case e.Error != nil:
				fmt.Fprintf(out, "[%s] %s: %s\n", e.RunID, e.Type, e.Error.Message)
			default:
				fmt.Fprintf(out, "[%s] %s\n", e.RunID, e.Type)
			}
		})
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchRaw, "raw", false, "print events as JSON")
	rootCmd.AddCommand(watchCmd)
}
