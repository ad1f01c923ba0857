package cmd

import (
	"fmt"
	"net/netip"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"aquaduct.dev/sluice/src/access"
)

var aclCmd = &cobra.Command{
	Use:   "acl",
	Short: "Evaluate and validate access control policy files",
}

// aclCheckCmd evaluates a policy file against a subject described by
// flags and prints the decision with the entry that fired.
var aclCheckCmd = &cobra.Command{
	Use:   "check --policy <file> --scope <scope>",
	Short: "Evaluate a policy against a subject and print the decision",
	Run: func(cmd *cobra.Command, args []string) {
		policyPath, _ := cmd.Flags().GetString("policy")
		scope, _ := cmd.Flags().GetString("scope")
		if policyPath == "" || scope == "" {
			log.Fatal().Msg("--policy and --scope are required")
		}
		if err := access.ValidateScopes([]string{scope}, nil, false); err != nil {
			log.Fatal().Err(err).Msg("Invalid scope")
		}

		acl, err := access.ReadPolicyFile(policyPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read policy")
		}

		anonymous, _ := cmd.Flags().GetBool("anonymous")
		user, _ := cmd.Flags().GetString("user")
		groups, _ := cmd.Flags().GetStringSlice("groups")
		orgs, _ := cmd.Flags().GetStringSlice("orgs")
		keys, _ := cmd.Flags().GetStringSlice("keys")
		ipStr, _ := cmd.Flags().GetString("ip")

		subject := access.Subject{
			IsAnonymous:   anonymous || user == "",
			UserID:        user,
			Groups:        groups,
			Organizations: orgs,
		}
		for _, k := range keys {
			subject.KeyFingerprints = append(subject.KeyFingerprints, access.KeyFingerprint(k))
		}
		if ipStr != "" {
			addr, err := netip.ParseAddr(ipStr)
			if err != nil {
				log.Fatal().Err(err).Msg("Invalid --ip")
			}
			subject.SourceIP = addr
		}

		result := access.Evaluate(*acl, subject, scope)
		fmt.Printf("decision: %s\n", result.Decision)
		if result.Decision == access.Deny {
			fmt.Printf("reason: %s\n", result.Reason)
		}
		if result.MatchedAllow != nil {
			fmt.Printf("matched allow entry: type=%s subjects=%v\n", result.MatchedAllow.Type, result.MatchedAllow.Subjects)
		}
		if result.MatchedDeny != nil {
			fmt.Printf("matched deny entry: type=%s subjects=%v inherited=%v\n",
				result.MatchedDeny.Type, result.MatchedDeny.Subjects, result.MatchedDeny.IsInherited)
		}
		if result.Decision == access.Deny {
			os.Exit(1)
		}
	},
}

var aclValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Lint a JSONC policy file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		acl, err := access.ReadPolicyFile(args[0])
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read policy")
		}
		if err := access.ValidateACL(acl); err != nil {
			log.Fatal().Err(err).Msg("Policy is invalid")
		}
		fmt.Printf("%s: %d entries, ok\n", args[0], len(acl.Entries))
	},
}

func init() {
	rootCmd.AddCommand(aclCmd)
	aclCmd.AddCommand(aclCheckCmd)
	aclCmd.AddCommand(aclValidateCmd)

	aclCheckCmd.Flags().String("policy", "", "Path to a JSONC policy file")
	aclCheckCmd.Flags().String("scope", "", "Requested access scope")
	aclCheckCmd.Flags().Bool("anonymous", false, "Evaluate as an anonymous requester")
	aclCheckCmd.Flags().String("user", "", "Requester user ID")
	aclCheckCmd.Flags().StringSlice("groups", nil, "Requester group IDs")
	aclCheckCmd.Flags().StringSlice("orgs", nil, "Requester organization IDs")
	aclCheckCmd.Flags().StringSlice("keys", nil, "Requester public keys or fingerprints")
	aclCheckCmd.Flags().String("ip", "", "Requester source IP")
}
