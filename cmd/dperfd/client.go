package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/ethpandaops/dperf/pkg/client"
	"github.com/ethpandaops/dperf/pkg/run"
	"github.com/spf13/cobra"
)

var serverURL string

var submitCmd = &cobra.Command{
	Use:   "submit <file>",
	Short: "Submit a run document",
	Long:  `Submit a run JSON document read from a file, or from stdin when the file is "-".`,
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored runs grouped by name",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

var getCmd = &cobra.Command{
	Use:   "get <runId>",
	Short: "Print a stored run document",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func init() {
	for _, cmd := range []*cobra.Command{submitCmd, runsCmd, getCmd} {
		cmd.Flags().StringVar(&serverURL, "server", "http://localhost:9123",
			"dperf server base URL")
		rootCmd.AddCommand(cmd)
	}
}

func runSubmit(cmd *cobra.Command, args []string) error {
	var (
		doc []byte
		err error
	)

	if args[0] == "-" {
		doc, err = io.ReadAll(cmd.InOrStdin())
	} else {
		doc, err = os.ReadFile(args[0])
	}

	if err != nil {
		return fmt.Errorf("reading run document: %w", err)
	}

	// Catch malformed documents before they reach the server.
	candidate, err := run.Decode(doc)
	if err != nil {
		return err
	}

	if err := run.Validate(candidate, run.ValidateOptions{}); err != nil {
		return err
	}

	if err := client.New(serverURL).Submit(cmd.Context(), doc); err != nil {
		return fmt.Errorf("submitting run: %w", err)
	}

	log.WithField("run_id", *candidate.RunID).Info("Run submitted")

	return nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	runs, err := client.New(serverURL).ListRuns(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}

	return printJSON(cmd.OutOrStdout(), runs)
}

func runGet(cmd *cobra.Command, args []string) error {
	runID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", args[0], err)
	}

	doc, err := client.New(serverURL).GetRun(cmd.Context(), runID)
	if err != nil {
		return fmt.Errorf("getting run: %w", err)
	}

	return printJSON(cmd.OutOrStdout(), doc)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
