package ui

import (
	"os"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// MultiProgress renders one progress row per in-flight document during batch
// processing.
type MultiProgress struct {
	progress *mpb.Progress
}

// NewMultiProgress creates a new multi-bar progress display.
func NewMultiProgress() *MultiProgress {
	return &MultiProgress{
		progress: mpb.New(
			mpb.WithWidth(64),
			mpb.WithOutput(os.Stderr),
		),
	}
}

// AddTask adds a spinner row for one document. Completing the returned bar
// replaces the spinner with a check mark.
func (m *MultiProgress) AddTask(name string) *mpb.Bar {
	return m.progress.AddBar(1,
		mpb.BarFillerOnComplete("✓"),
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DSyncSpaceR}),
			decor.Spinner([]string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}, decor.WC{W: 1}),
		),
		mpb.AppendDecorators(
			decor.Elapsed(decor.ET_STYLE_GO, decor.WC{W: 12}),
		),
	)
}

// Wait blocks until all bars complete. When output is piped the display
// cannot render, so it shuts down without waiting.
func (m *MultiProgress) Wait() {
	if IsTerminal() {
		m.progress.Wait()
	} else {
		m.progress.Shutdown()
	}
}
