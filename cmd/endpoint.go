package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"aquaduct.dev/sluice/types"
)

// endpointCmd is a debugging surface for the connection-mode codec:
// it parses an endpoint JSON object and prints the canonical form.
var endpointCmd = &cobra.Command{
	Use:   "endpoint",
	Short: "Work with tunnel endpoint wire objects",
}

var endpointParseCmd = &cobra.Command{
	Use:   "parse [file]",
	Short: "Parse an endpoint object and print its canonical form",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var data []byte
		var err error
		if len(args) == 1 {
			data, err = os.ReadFile(args[0])
		} else {
			data, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read input")
		}

		endpoint, err := types.UnmarshalEndpoint(data)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to parse endpoint")
		}

		canonical, err := types.MarshalEndpoint(endpoint)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to encode endpoint")
		}
		fmt.Printf("mode: %s\nhost: %s\n%s\n", endpoint.ConnectionMode(), endpoint.HostID(), canonical)
	},
}

func init() {
	rootCmd.AddCommand(endpointCmd)
	endpointCmd.AddCommand(endpointParseCmd)
}
