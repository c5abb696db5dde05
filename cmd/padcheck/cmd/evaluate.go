package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Aidin1998/padcheck/internal/compliance"
)

var evalFile string

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate one request and print the result as JSON",
	Long: `Evaluate runs a single request through the pipeline without the API.
The request is read from --file, or stdin when the flag is "-".

Examples:
  padcheck evaluate --file request.json
  cat request.json | padcheck evaluate --file -`,
	Args: cobra.NoArgs,
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().StringVarP(&evalFile, "file", "f", "-", "request JSON file")
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	var in io.Reader = cmd.InOrStdin()
	if evalFile != "-" {
		f, err := os.Open(evalFile)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	var req compliance.Request
	dec := json.NewDecoder(in)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}

	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Fuzzy.Load(ctx); err != nil {
		log.Warn("Fuzzy index unavailable, approximate matching disabled", zap.Error(err))
	}
	res, err := a.Service.Evaluate(ctx, req)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
