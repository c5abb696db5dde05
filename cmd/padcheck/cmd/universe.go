package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var universeLimit int

var universeCmd = &cobra.Command{
	Use:   "universe",
	Short: "Inspect the instrument universe behind approximate matching",
}

var universeLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Build the fuzzy index once and report its size",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Fuzzy.Load(cmd.Context()); err != nil {
			return err
		}
		log.Info("Universe loaded", zap.Int("entries", a.Fuzzy.Size()))
		return nil
	},
}

var universeSearchCmd = &cobra.Command{
	Use:   "search <term>",
	Short: "Show the approximate matches for a description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Fuzzy.Load(cmd.Context()); err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SCORE\tSYMBOL\tDESCRIPTION\tSOURCE")
		for _, m := range a.Fuzzy.Search(args[0], universeLimit) {
			fmt.Fprintf(w, "%.3f\t%s\t%s\t%s\n", m.Score, m.Instrument.Symbol, m.Instrument.Description, m.Instrument.Source)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(universeCmd)
	universeCmd.AddCommand(universeLoadCmd, universeSearchCmd)
	universeSearchCmd.Flags().IntVarP(&universeLimit, "limit", "n", 0, "maximum matches (default from config)")
}
