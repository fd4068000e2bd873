package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/acp/internal/discovery"
)

var etcdEndpoints []string

var serversCmd = &cobra.Command{
	Use:   "servers [server-name]",
	Short: "List ACP servers registered in etcd",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := discovery.NewEtcd(etcdEndpoints, 10*time.Second)
		if err != nil {
			return err
		}
		defer reg.Close()

		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		records, err := reg.Discover(cmd.Context(), name)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No servers registered.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SERVER\tURL\tAGENTS")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.Server, r.URL, strings.Join(r.Agents, ","))
		}
		return w.Flush()
	},
}

func init() {
	serversCmd.Flags().StringSliceVar(&etcdEndpoints, "etcd", []string{"localhost:2379"}, "etcd endpoints")
	rootCmd.AddCommand(serversCmd)
}
