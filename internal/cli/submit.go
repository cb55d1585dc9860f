package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yourorg/erp-loader/internal/grouping"
	"github.com/yourorg/erp-loader/internal/runner"
	"github.com/yourorg/erp-loader/internal/types"
)

var ErrRunFailed = errors.New("no record was submitted successfully")

var (
	submitInput     string
	submitObject    string
	submitMode      string
	submitBatchSize int
	submitOut       string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a record file to the ERP",
	Long: `Submit a record file (.jsonl, .csv, .xlsx, .xls) to the ERP backend.

Records are grouped into documents per business object, submitted in batches
and the outcome of every record is written to the result manifest. Ctrl-C
stops the run after the batch in flight.

Examples:
  loader submit --input receipts.xlsx --object goods-receipt
  loader submit -i s3://loads/ses.jsonl -o service-entry-sheet --mode soap --out s3://loads/ses.result.json`,
	Args: cobra.NoArgs,
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVarP(&submitInput, "input", "i", "", "record file (path, file:// or s3:// URI)")
	submitCmd.Flags().StringVarP(&submitObject, "object", "o", "", "business object ("+strings.Join(grouping.Names(), ", ")+")")
	submitCmd.Flags().StringVarP(&submitMode, "mode", "m", "", "submission mode (odata, soap); defaults to the object's mode")
	submitCmd.Flags().IntVarP(&submitBatchSize, "batch-size", "b", 0, "records per batch (default from config)")
	submitCmd.Flags().StringVar(&submitOut, "out", "", "result manifest URI")
	_ = submitCmd.MarkFlagRequired("input")
	_ = submitCmd.MarkFlagRequired("object")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	r := runner.New(cfg, logger)
	job, err := r.Prepare(ctx, types.SubmissionParams{
		InputURI:  submitInput,
		ResultURI: submitOut,
		Object:    submitObject,
		Mode:      submitMode,
		BatchSize: submitBatchSize,
	})
	if err != nil {
		return fmt.Errorf("prepare run: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s records to submit as %s via %s (%d rejected at intake)\n",
		humanize.Comma(int64(len(job.Batch.Records))), job.Layout.Name, job.Mode, job.Batch.Rejected())

	eng := r.NewEngine(nil)
	updates, stop := eng.Subscribe(1)
	defer stop()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for p := range updates {
			fmt.Fprintf(out, "  %s (%s remaining)\n", p.Status, p.EstimatedTimeRemaining)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-sigs:
			fmt.Fprintln(cmd.ErrOrStderr(), "stopping after the current batch...")
			eng.Cancel()
		case <-printed:
		}
	}()

	m, err := r.Run(ctx, job, eng, uuid.NewString())
	stop()
	<-printed
	if err != nil {
		return err
	}
	printSummary(out, m.Summary)
	if m.Summary.Result == types.RunFullFailure {
		return ErrRunFailed
	}
	return nil
}

func printSummary(w io.Writer, s types.RunSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", s.RunID)
	fmt.Fprintf(tw, "result\t%s\n", s.Result)
	fmt.Fprintf(tw, "processed\t%s of %s\n", humanize.Comma(int64(s.ProcessedCount)), humanize.Comma(int64(s.TotalRecords)))
	fmt.Fprintf(tw, "succeeded\t%s\n", humanize.Comma(int64(s.SuccessCount)))
	fmt.Fprintf(tw, "failed\t%s\n", humanize.Comma(int64(s.FailureCount)))
	fmt.Fprintf(tw, "rejected\t%s\n", humanize.Comma(int64(s.Rejected)))
	if s.Cancelled {
		fmt.Fprintf(tw, "cancelled\tyes\n")
	}
	if s.ResultURI != "" {
		fmt.Fprintf(tw, "manifest\t%s\n", s.ResultURI)
	}
	_ = tw.Flush()
}
