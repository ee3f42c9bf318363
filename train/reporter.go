package train

import (
	"fmt"
	"io"
	"math"

	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// Reporter receives progress events from Train.
type Reporter interface {
	Start(epochs, batchesPerEpoch int, schedule WarmupCosine)
	Batch(epoch, batch int, meanLoss, lr float64)
	EndEpoch(epoch int, trainLoss, valLoss float64, improved bool)
	Finish(best Checkpoint)
}

// SilentReporter discards every event.
type SilentReporter struct{}

func (SilentReporter) Start(int, int, WarmupCosine) {}
func (SilentReporter) Batch(int, int, float64, float64) {}
func (SilentReporter) EndEpoch(int, float64, float64, bool) {}
func (SilentReporter) Finish(Checkpoint) {}

type progressReporter struct {
	w       io.Writer
	epochs  int
	batches int
	bar     *progressbar.ProgressBar
}

// NewProgressReporter draws one progress bar per epoch on w, showing the
// running mean training loss and the current learning rate, and logs an
// epoch summary through klog.
func NewProgressReporter(w io.Writer) Reporter {
	return &progressReporter{w: w}
}

func (r *progressReporter) Start(epochs, batches int, schedule WarmupCosine) {
	r.epochs, r.batches = epochs, batches
	klog.Infof("training for %d epochs of %d batches", epochs, batches)
	klog.V(1).Infof("schedule: %d warm-up steps, %d steps in total", schedule.WarmupSteps, schedule.MaxSteps)
}

func (r *progressReporter) Batch(epoch, batch int, meanLoss, lr float64) {
	if r.bar == nil {
		r.bar = progressbar.NewOptions(r.batches,
			progressbar.OptionSetWriter(r.w),
			progressbar.OptionSetDescription(fmt.Sprintf("Epoch %d/%d", epoch, r.epochs)),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("batches"),
			progressbar.OptionSetTheme(progressbar.ThemeUnicode),
			progressbar.OptionUseANSICodes(true),
		)
	}
	r.bar.Describe(fmt.Sprintf("Epoch %d/%d loss %.4f lr %.2e", epoch, r.epochs, meanLoss, lr))
	_ = r.bar.Add(1)
	klog.V(2).Infof("epoch %d batch %d: mean loss %.4f, lr %g", epoch, batch, meanLoss, lr)
}

func (r *progressReporter) EndEpoch(epoch int, trainLoss, valLoss float64, improved bool) {
	if r.bar != nil {
		_ = r.bar.Finish()
		_, _ = fmt.Fprintln(r.w)
		r.bar = nil
	}
	mark := ""
	if improved {
		mark = " [best]"
	}
	klog.Infof("epoch %d: train loss %.4f, val loss %.4f, ppl %.2f%s", epoch, trainLoss, valLoss, math.Exp(valLoss), mark)
}

func (r *progressReporter) Finish(best Checkpoint) {
	klog.Infof("best model: epoch %d, val loss %.4f", best.Epoch, best.Loss)
}
