package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/negotiate-network/negotiate/internal/app/importer"
	"github.com/negotiate-network/negotiate/internal/domain"
)

func init() {
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(importsCmd)
	importsCmd.AddCommand(importsShowCmd)

	importCmd.Flags().String("company", "", "Company that owns the accounts (required)")
	importCmd.Flags().String("mode", "", "add, update or delete (required)")
	importCmd.Flags().String("mapping", "", "Field to column index, e.g. account_number=0,first_name=1 (required)")
	importCmd.Flags().String("date-format", "", "Go time layout for date columns (default [import].date_format)")
	importCmd.MarkFlagRequired("company")
	importCmd.MarkFlagRequired("mode")
	importCmd.MarkFlagRequired("mapping")
}

// ─── import ─────────────────────────────────────────────────────────────────

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Reconcile a creditor CSV file against stored accounts",
	Long: `Accept FILE as an import batch and process it in the foreground. Rows that
fail validation are written to a failed-rows CSV with an Errors column; its
location is printed when the run finishes.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	company, _ := cmd.Flags().GetString("company")
	mode, _ := cmd.Flags().GetString("mode")
	rawMapping, _ := cmd.Flags().GetString("mapping")
	dateFormat, _ := cmd.Flags().GetString("date-format")

	mapping, err := parseMapping(rawMapping)
	if err != nil {
		return err
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	d, log, err := openDaemon()
	if err != nil {
		return err
	}
	defer closeDaemon(d, log)

	ctx := commandContext(cmd)
	d.Start(ctx)
	batch, err := d.Importer.Accept(ctx, importer.Upload{
		CompanyID:  company,
		Mode:       domain.ImportMode(mode),
		Mapping:    mapping,
		DateFormat: dateFormat,
		Body:       f,
	})
	if err != nil {
		return err
	}
	sum, err := d.Importer.Run(ctx, batch.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Batch %s: %s\n", sum.BatchID, sum.Status)
	fmt.Fprintf(out, "  processed: %d\n", sum.ProcessedCount)
	fmt.Fprintf(out, "  failed:    %d\n", sum.FailedCount)
	if sum.FailedFileRef != "" {
		path, err := d.Files.Path(sum.FailedFileRef)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  failed rows: %s\n", path)
	}
	return nil
}

// parseMapping reads "field=index,field=index".
func parseMapping(s string) (domain.FieldMapping, error) {
	m := domain.FieldMapping{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		field, idx, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("mapping %q: want field=index", pair)
		}
		n, err := strconv.Atoi(strings.TrimSpace(idx))
		if err != nil {
			return nil, fmt.Errorf("mapping %q: %w", pair, err)
		}
		m[strings.TrimSpace(field)] = n
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ─── imports show ───────────────────────────────────────────────────────────

var importsCmd = &cobra.Command{
	Use:   "imports",
	Short: "Inspect import batches",
}

var importsShowCmd = &cobra.Command{
	Use:   "show BATCH_ID",
	Short: "Print an import batch as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runImportsShow,
}

func runImportsShow(cmd *cobra.Command, args []string) error {
	d, log, err := openDaemon()
	if err != nil {
		return err
	}
	defer closeDaemon(d, log)

	ctx := commandContext(cmd)
	batch, err := d.DB.GetBatch(ctx, args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(batch)
}
