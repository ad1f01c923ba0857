package cmd

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"aquaduct.dev/sluice/src/server"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the Sluice control plane server",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := server.Config{}
		if configPath, _ := cmd.Flags().GetString("config"); configPath != "" {
			loaded, err := server.LoadConfig(configPath)
			if err != nil {
				log.Fatal().Err(err).Str("config", configPath).Msg("failed to load config file")
			}
			cfg = *loaded
		}

		// Flags override the config file when set.
		if cmd.Flags().Changed("port") || cfg.Port == 0 {
			cfg.Port, _ = cmd.Flags().GetInt("port")
		}
		if cmd.Flags().Changed("bind-ip") {
			cfg.BindIP, _ = cmd.Flags().GetString("bind-ip")
		}
		if cmd.Flags().Changed("cluster-id") {
			cfg.ClusterID, _ = cmd.Flags().GetString("cluster-id")
		}
		if cmd.Flags().Changed("signing-secret") {
			cfg.SigningSecret, _ = cmd.Flags().GetString("signing-secret")
		}
		if cmd.Flags().Changed("state-file") {
			cfg.StateFile, _ = cmd.Flags().GetString("state-file")
		}
		if cmd.Flags().Changed("janitor-interval") {
			cfg.JanitorInterval, _ = cmd.Flags().GetDuration("janitor-interval")
		}

		log.Info().Int("port", cfg.Port).Str("cluster", cfg.ClusterID).Msg("Starting Sluice server")
		srv, err := server.NewServer(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create server")
		}

		log.Info().Str("signing_secret", srv.SigningSecret).Msg("Signing Secret")
		// Optionally write the signing secret to a file for automation.
		if secretFile, _ := cmd.Flags().GetString("secret-file"); secretFile != "" {
			if err := os.WriteFile(secretFile, []byte(srv.SigningSecret+"\n"), 0600); err != nil {
				log.Fatal().Err(err).Str("secret_file", secretFile).Msg("failed to write secret to file")
			}
			log.Info().Str("secret_file", secretFile).Msg("Wrote signing secret to file")
		}

		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal().Err(err).Msg("failed to serve HTTP")
			}
		}()

		// Wait for a signal to exit
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Server stopped.")
		if err := srv.Close(); err != nil {
			log.Fatal().Err(err).Msg("failed to shutdown")
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().Int("port", 9090, "Server listen port")
	serverCmd.Flags().String("bind-ip", "", "IP address to bind to")
	serverCmd.Flags().String("cluster-id", "main", "Cluster ID served by this instance")
	serverCmd.Flags().String("signing-secret", "", "Token signing secret (generated when empty)")
	serverCmd.Flags().String("secret-file", "", "Path to write the generated signing secret")
	serverCmd.Flags().String("state-file", "", "Path to the CBOR state snapshot")
	serverCmd.Flags().Duration("janitor-interval", 30*time.Second, "How often expired entries are pruned")
	serverCmd.Flags().String("config", "", "Path to a YAML config file")
}
