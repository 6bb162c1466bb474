package commands

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/forms-engine/cmd/forms-engine-cli/ui"
	"github.com/spherical-ai/forms-engine/internal/extract"
	"github.com/spherical-ai/forms-engine/internal/rasterize"
)

var (
	extractMediaType string
	extractOutput    string
)

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Show the raw OCR text of a document",
	Long: `Extract rasterizes a document and runs OCR, then prints the recognized
text with its page boundary markers. Nothing is parsed or stored; the
output is what the parser would see, which makes it the place to look
when a field rule does not fire.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVarP(&extractMediaType, "media-type", "m", "", "declared media type (overrides detection)")
	extractCmd.Flags().StringVarP(&extractOutput, "output", "o", "", "write the text to this path instead of stdout")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
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

	ui.Section("Text Extraction")
	ui.KeyValue("Input", docPath)
	if extractMediaType != "" {
		ui.KeyValue("Media type", extractMediaType)
	}
	ui.Newline()

	converter := rasterize.NewConverter(rasterize.Options{
		Quality:  cfg.Rasterize.Quality,
		MaxPages: cfg.Rasterize.MaxPages,
	})
	defer converter.Cleanup()

	spin := ui.NewSpinner("Rasterizing document...")
	spin.Start()
	pages, err := converter.Convert(ctx, docPath, extractMediaType)
	spin.Stop()
	if err != nil {
		return fmt.Errorf("rasterize: %w", err)
	}

	var bar *ui.ProgressBar
	var mu sync.Mutex
	svc := extract.NewService(extract.NewTesseractEngine(), logger, extract.ServiceOptions{
		Languages:      cfg.OCR.Languages,
		DPI:            cfg.OCR.DPI,
		Timeout:        cfg.OCR.Timeout,
		TimeoutRetries: cfg.OCR.TimeoutRetries,
		Workers:        cfg.OCR.Workers,
		Enhance:        cfg.OCR.Enhance,
		MinPageWidth:   cfg.OCR.MinPageWidth,
		OnPage: func(completed, total int) {
			mu.Lock()
			defer mu.Unlock()
			if bar == nil {
				bar = ui.NewProgressBar(int64(total), "Recognizing pages")
			}
			bar.Set(int64(completed))
			if completed == total {
				bar.Finish()
			}
		},
	})

	doc, err := svc.ExtractDocument(ctx, pages)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}

	ui.Success("Text extracted")
	ui.Newline()

	rows := [][]string{
		{"Pages", strconv.Itoa(len(doc.Pages))},
		{"Characters", strconv.Itoa(len(doc.Text))},
	}
	if doc.HasConfidence {
		rows = append(rows, []string{"Confidence", fmt.Sprintf("%.1f%%", doc.Confidence*100)})
	}
	ui.Table([]string{"Field", "Value"}, rows)
	ui.Newline()

	if extractOutput != "" {
		if err := os.WriteFile(extractOutput, []byte(doc.Text+"\n"), 0o644); err != nil {
			return fmt.Errorf("write text: %w", err)
		}
		ui.Success("Text written to %s", extractOutput)
		return nil
	}

	fmt.Println(doc.Text)
	return nil
}
