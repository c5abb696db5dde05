package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Aidin1998/padcheck/internal/rules"
)

var (
	rulesFile  string
	rulesForce bool
	rulesYAML  bool
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage the stored rule set",
	Long: `Manage the versioned rule set evaluations run against.

Subcommands:
  seed  - Store a rule set from a YAML file
  show  - Print the rule set currently in effect
  check - Validate a YAML file without storing it

Examples:
  padcheck rules seed --file configs/rules.yaml
  padcheck rules seed --file configs/rules.yaml --force
  padcheck rules show --yaml`,
}

var rulesSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Store a rule set unless one already exists",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		snap, err := a.SeedRules(cmd.Context(), rulesFile, rulesForce)
		if err != nil {
			return err
		}
		log.Info("Rule set in effect", zap.Int64("version", snap.Version))
		return nil
	},
}

var rulesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the rule set currently in effect",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return printSnapshot(cmd, a.Rules.Snapshot(cmd.Context()))
	},
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate a rules file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		snap, err := rules.LoadYAMLFile(rulesFile)
		if err != nil {
			return err
		}
		return printSnapshot(cmd, snap)
	},
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesSeedCmd, rulesShowCmd, rulesCheckCmd)

	for _, c := range []*cobra.Command{rulesSeedCmd, rulesCheckCmd} {
		c.Flags().StringVarP(&rulesFile, "file", "f", "configs/rules.yaml", "rules YAML file")
	}
	rulesSeedCmd.Flags().BoolVar(&rulesForce, "force", false, "store a new version even if one exists")
	rulesShowCmd.Flags().BoolVar(&rulesYAML, "yaml", false, "print YAML instead of JSON")
	rulesCheckCmd.Flags().BoolVar(&rulesYAML, "yaml", false, "print YAML instead of JSON")
}

func printSnapshot(cmd *cobra.Command, snap *rules.Snapshot) error {
	if rulesYAML {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(snap)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}
