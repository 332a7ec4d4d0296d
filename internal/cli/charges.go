package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/negotiate-network/negotiate/internal/domain"
)

func init() {
	rootCmd.AddCommand(chargesCmd)
	chargesCmd.AddCommand(chargesRunDueCmd)
	chargesCmd.AddCommand(chargesProcessCmd)
}

var chargesCmd = &cobra.Command{
	Use:   "charges",
	Short: "Run scheduled charges",
}

// ─── charges run-due ────────────────────────────────────────────────────────

var chargesRunDueCmd = &cobra.Command{
	Use:   "run-due",
	Short: "Charge everything scheduled on or before today and wait for the results",
	Args:  cobra.NoArgs,
	RunE:  runChargesRunDue,
}

func runChargesRunDue(cmd *cobra.Command, args []string) error {
	d, log, err := openDaemon()
	if err != nil {
		return err
	}
	defer closeDaemon(d, log)

	ctx := commandContext(cmd)
	d.Start(ctx)
	jobs, err := d.Sweeper.EnqueueDue(ctx)
	if err != nil {
		return err
	}
	d.Jobs.Wait()

	out := cmd.OutOrStdout()
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No charges due.")
		return nil
	}
	failed := 0
	for _, j := range jobs {
		job, err := d.DB.GetJob(ctx, j.ID)
		if err != nil {
			return err
		}
		if job.Status != domain.JobCompleted {
			failed++
		}
		printJob(out, job)
	}
	fmt.Fprintf(out, "%d charged, %d failed\n", len(jobs)-failed, failed)
	return nil
}

func printJob(w io.Writer, job *domain.Job) {
	if job.LastError != "" {
		fmt.Fprintf(w, "  %-36s  %-9s  %s\n", job.Ref, job.Status, job.LastError)
		return
	}
	fmt.Fprintf(w, "  %-36s  %s\n", job.Ref, job.Status)
}

// ─── charges process ────────────────────────────────────────────────────────

var chargesProcessCmd = &cobra.Command{
	Use:   "process CHARGE_ID",
	Short: "Run one scheduled charge now",
	Args:  cobra.ExactArgs(1),
	RunE:  runChargesProcess,
}

func runChargesProcess(cmd *cobra.Command, args []string) error {
	d, log, err := openDaemon()
	if err != nil {
		return err
	}
	defer closeDaemon(d, log)

	ctx := commandContext(cmd)
	d.Start(ctx)
	outcome, err := d.Payments.Process(ctx, args[0])
	if outcome.Kind == "" {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(outcome); encErr != nil {
		return encErr
	}
	return err
}
