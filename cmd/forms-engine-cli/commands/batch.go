package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/forms-engine/cmd/forms-engine-cli/ui"
	"github.com/spherical-ai/forms-engine/internal/pipeline"
	"github.com/spherical-ai/forms-engine/internal/rasterize"
)

var (
	batchWorkers   int
	batchMediaType string
)

var batchCmd = &cobra.Command{
	Use:   "batch <dir>",
	Short: "Process every supported document in a directory",
	Long: `Batch scans a directory for supported documents (PDF, PNG, JPEG, TIFF)
and processes them concurrently. Documents are independent: a failure in one
never blocks the others, and the command exits non-zero if any document failed.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().IntVarP(&batchWorkers, "workers", "w", 4, "concurrent documents")
	batchCmd.Flags().StringVarP(&batchMediaType, "media-type", "m", "", "declared media type for every file")
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dir := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ui.InitUI(noColor, verbose)
	logger := newLogger()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read directory: %w", err)
	}

	var files []string
	skipped := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if _, err := rasterize.DetectMediaType(path, batchMediaType); err != nil {
			skipped++
			continue
		}
		files = append(files, path)
	}

	if len(files) == 0 {
		ui.Warning("No supported documents in %s", dir)
		return nil
	}

	ui.Section("Batch Processing")
	ui.KeyValue("Directory", dir)
	ui.KeyValue("Documents", len(files))
	if skipped > 0 {
		ui.KeyValue("Skipped", skipped)
	}
	ui.KeyValue("Workers", batchWorkers)
	ui.Newline()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := ensureSchema(ctx, db, cfg); err != nil {
		return err
	}

	pipe, cacheClient, err := buildPipeline(cfg, logger, db, nil)
	if err != nil {
		return err
	}
	defer cacheClient.Close()

	type outcome struct {
		file string
		res  *pipeline.Result
		err  error
	}

	outcomes := make([]outcome, len(files))
	workChan := make(chan int, len(files))
	for i := range files {
		workChan <- i
	}
	close(workChan)

	workers := batchWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > len(files) {
		workers = len(files)
	}

	mp := ui.NewMultiProgress()
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range workChan {
				path := files[idx]
				bar := mp.AddTask(filepath.Base(path))

				res, err := pipe.Process(ctx, path, batchMediaType)
				outcomes[idx] = outcome{file: path, res: res, err: err}

				bar.Increment()
			}
		}()
	}
	wg.Wait()
	mp.Wait()

	ui.Newline()
	ui.Section("Results")

	failed := 0
	rows := make([][]string, 0, len(outcomes))
	for _, o := range outcomes {
		row := []string{filepath.Base(o.file)}
		if o.err != nil {
			failed++
			stage := ""
			if o.res != nil {
				stage = string(o.res.Stage)
			}
			rows = append(rows, append(row, "failed", stage, "", truncate(o.err.Error(), 60)))
			continue
		}
		rows = append(rows, append(row,
			string(o.res.Status),
			string(o.res.Stage),
			strconv.FormatInt(o.res.SubmissionID, 10),
			"",
		))
	}
	ui.Table([]string{"File", "Status", "Stage", "Submission", "Error"}, rows)
	ui.Newline()

	if failed > 0 {
		ui.Error("%d of %d documents failed", failed, len(files))
		return fmt.Errorf("batch: %d of %d documents failed", failed, len(files))
	}

	ui.Success("All %d documents processed", len(files))
	return nil
}
