// Package cmd: implements the `sluice list` CLI command.
//
// The `sluice list [server]` command lists the tunnels visible to an
// operator and prints them as a table. The server URL carries the
// signing secret as the URL user, e.g. sluice://secret@host:9090.
package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"aquaduct.dev/sluice/src/client"
)

var listCmd = &cobra.Command{
	Use:   "list [server]",
	Short: "List tunnels on a Sluice server",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c, err := client.NewClient(args[0], "list-client")
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid server URL")
		}

		tunnels, err := c.ListTunnels()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to list tunnels")
		}

		sort.Slice(tunnels, func(i, j int) bool { return tunnels[i].TunnelID < tunnels[j].TunnelID })

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "Tunnel ID\tName\tPorts\tEndpoints\tTags\tCreated")
		for _, t := range tunnels {
			created := ""
			if t.Created != nil {
				created = t.Created.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
				t.TunnelID, t.Name, len(t.Ports), len(t.Endpoints), strings.Join(t.Tags, ","), created)
		}
		w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
