package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"aquaduct.dev/sluice/src/token"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint and inspect tunnel access tokens",
}

var tokenMintCmd = &cobra.Command{
	Use:   "mint",
	Short: "Mint a signed tunnel access token",
	Run: func(cmd *cobra.Command, args []string) {
		secret, _ := cmd.Flags().GetString("secret")
		if secret == "" {
			log.Fatal().Msg("--secret is required")
		}
		user, _ := cmd.Flags().GetString("user")
		scopes, _ := cmd.Flags().GetStringSlice("scopes")
		clusterID, _ := cmd.Flags().GetString("cluster-id")
		tunnelID, _ := cmd.Flags().GetString("tunnel")
		groups, _ := cmd.Flags().GetStringSlice("groups")
		orgs, _ := cmd.Flags().GetStringSlice("orgs")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		claims := token.Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: user},
			ClusterID:        clusterID,
			TunnelID:         tunnelID,
			Scopes:           strings.Join(scopes, " "),
			Groups:           groups,
			Organizations:    orgs,
		}
		signed, err := token.Mint(secret, claims, ttl)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to mint token")
		}
		fmt.Println(signed)
	},
}

var tokenInspectCmd = &cobra.Command{
	Use:   "inspect <token>",
	Short: "Decode a token's claims without verifying the signature",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var claims token.Claims
		_, _, err := jwt.NewParser().ParseUnverified(args[0], &claims)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to parse token")
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(claims); err != nil {
			log.Fatal().Err(err).Msg("Failed to encode claims")
		}
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenMintCmd)
	tokenCmd.AddCommand(tokenInspectCmd)

	tokenMintCmd.Flags().String("secret", "", "Token signing secret")
	tokenMintCmd.Flags().String("user", "", "Subject user ID")
	tokenMintCmd.Flags().StringSlice("scopes", nil, "Scopes to grant (e.g. connect,inspect)")
	tokenMintCmd.Flags().String("cluster-id", "", "Cluster the token is bound to")
	tokenMintCmd.Flags().String("tunnel", "", "Tunnel the token is bound to")
	tokenMintCmd.Flags().StringSlice("groups", nil, "Group IDs carried by the token")
	tokenMintCmd.Flags().StringSlice("orgs", nil, "Organization IDs carried by the token")
	tokenMintCmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
}
