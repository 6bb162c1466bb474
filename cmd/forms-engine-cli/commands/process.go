package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/spherical-ai/forms-engine/cmd/forms-engine-cli/ui"
	"github.com/spherical-ai/forms-engine/internal/pipeline"
)

var (
	processMediaType  string
	processOutputJSON string
	processNoPersist  bool
)

var processCmd = &cobra.Command{
	Use:   "process <file>",
	Short: "Process one scanned form document",
	Long: `Process runs the full pipeline for a single document: rasterize, OCR,
parse, and persist. Use --no-persist to stop after parsing.`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVarP(&processMediaType, "media-type", "m", "", "declared media type (overrides detection)")
	processCmd.Flags().StringVarP(&processOutputJSON, "output-json", "o", "", "write the parsed record to this path")
	processCmd.Flags().BoolVar(&processNoPersist, "no-persist", false, "parse only, do not store the record")
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	docPath := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ui.InitUI(noColor, verbose)
	logger := newLogger()

	if _, err := os.Stat(docPath); err != nil {
		return fmt.Errorf("input file: %w", err)
	}

	ui.Section("Document Processing")
	ui.KeyValue("Input", docPath)
	if processMediaType != "" {
		ui.KeyValue("Media type", processMediaType)
	}
	ui.Newline()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if !processNoPersist {
		if err := ensureSchema(ctx, db, cfg); err != nil {
			return err
		}
	}

	// Spinner covers the rasterize and persist stages; recognition gets a
	// per-page progress bar once the page count is known.
	spin := ui.NewSpinner("Rasterizing document...")
	var bar *ui.ProgressBar
	var mu sync.Mutex
	onPage := func(completed, total int) {
		mu.Lock()
		defer mu.Unlock()
		if bar == nil {
			spin.Stop()
			bar = ui.NewProgressBar(int64(total), "Recognizing pages")
		}
		bar.Set(int64(completed))
		if completed == total {
			bar.Finish()
			spin.UpdateMessage("Parsing and persisting...")
			spin.Start()
		}
	}

	pipe, cacheClient, err := buildPipeline(cfg, logger, db, onPage)
	if err != nil {
		return err
	}
	defer cacheClient.Close()

	spin.Start()
	var res *pipeline.Result
	if processNoPersist {
		res, err = pipe.ProcessNoPersist(ctx, docPath, processMediaType)
	} else {
		res, err = pipe.Process(ctx, docPath, processMediaType)
	}
	spin.Stop()

	if err != nil {
		if res != nil && res.Record != nil {
			ui.Warning("The parsed record is cached; re-running skips rasterization and OCR")
		}
		return fmt.Errorf("processing failed: %w", err)
	}

	ui.Success("Document processed")
	ui.Newline()
	ui.Section("Summary")

	rows := [][]string{
		{"Status", string(res.Status)},
		{"Stage", string(res.Stage)},
		{"Pages", strconv.Itoa(res.PageCount)},
	}
	if res.HasConfidence {
		rows = append(rows, []string{"Confidence", fmt.Sprintf("%.1f%%", res.Confidence*100)})
	}
	rows = append(rows, []string{"Cache", lo.Ternary(res.CacheHit, "hit", "miss")})
	if !processNoPersist {
		rows = append(rows,
			[]string{"Patient ID", strconv.FormatInt(res.PatientID, 10)},
			[]string{"Submission ID", strconv.FormatInt(res.SubmissionID, 10)},
		)
	}
	rows = append(rows, []string{"Duration", ui.FormatDuration(res.Duration)})
	ui.Table([]string{"Field", "Value"}, rows)

	if res.Record != nil {
		ui.Newline()
		ui.KeyValue("Patient", res.Record.Name)
		if res.Record.DOB != "" {
			ui.KeyValue("DOB", res.Record.DOB)
		}
		ui.KeyValue("Fields", res.Record.Fields.Len())
	}

	if processOutputJSON != "" {
		data, err := json.MarshalIndent(res.Record, "", "  ")
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		if err := os.WriteFile(processOutputJSON, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		ui.Newline()
		ui.Success("Parsed record written to %s", processOutputJSON)
	}

	return nil
}
