package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Inspect per-domain fetch memory",
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List domain fetch profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		profiles, err := env.Store.ListProfiles(cmd.Context())
		if err != nil {
			return err
		}

		for _, p := range profiles {
			gate := ""
			if len(p.AgeGateCookies) > 0 {
				gate = "  age-gate cookies"
			}
			fmt.Printf("%-30s required tier %d  last success tier %d%s\n",
				p.Domain, p.RequiredTier, p.LastSuccessTier, gate)
		}
		fmt.Printf("%d domains\n", len(profiles))
		return nil
	},
}

var profilesResetCmd = &cobra.Command{
	Use:   "reset <domain>",
	Short: "Reset a domain back to tier 1 (e.g. after its anti-bot posture relaxed)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.ResetProfile(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("reset %s to tier 1\n", args[0])
		return nil
	},
}

func init() {
	profilesCmd.AddCommand(profilesListCmd, profilesResetCmd)
	rootCmd.AddCommand(profilesCmd)
}
