package main

import (
	"encoding/json"
	"math"
	"os"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"tinylm/train"
)

// Manifest records how a run was produced.
type Manifest struct {
	RunID        string    `json:"run_id"`
	CorpusPath   string    `json:"corpus_path"`
	CorpusHash   string    `json:"corpus_hash"`
	VocabSize    int       `json:"vocab_size"`
	Sequences    int       `json:"sequences"`
	EmbedDim     int       `json:"embed_dim"`
	Heads        int       `json:"heads"`
	FeedForward  int       `json:"feed_forward"`
	MaxSeqLen    int       `json:"max_seq_len"`
	Window       int       `json:"window"`
	Batch        int       `json:"batch"`
	Dropout      float64   `json:"dropout"`
	Epochs       int       `json:"epochs"`
	LR           float64   `json:"lr"`
	Warmup       float64   `json:"warmup_epochs"`
	Clip         float64   `json:"clip"`
	Patience     int       `json:"patience"`
	Seed         uint64    `json:"seed"`
	Parameters   int       `json:"parameters"`
	TrainedAt    time.Time `json:"trained_at"`
	BuildVersion string    `json:"build_version"`
}

type EpochMetrics struct {
	Epoch      int     `json:"epoch"`
	TrainLoss  float64 `json:"train_loss"`
	ValLoss    float64 `json:"val_loss"`
	Perplexity float64 `json:"perplexity"`
}

type Metrics struct {
	Epochs      []EpochMetrics `json:"epochs"`
	BestEpoch   int            `json:"best_epoch"`
	BestValLoss float64        `json:"best_val_loss"`
	Stopped     bool           `json:"early_stopped"`
}

func newMetrics(h *train.History) Metrics {
	m := Metrics{BestEpoch: h.Best.Epoch, BestValLoss: h.Best.Loss, Stopped: h.Stopped}
	for i := range h.Val {
		m.Epochs = append(m.Epochs, EpochMetrics{
			Epoch:      i + 1,
			TrainLoss:  h.Train[i],
			ValLoss:    h.Val[i],
			Perplexity: math.Exp(h.Val[i]),
		})
	}
	return m
}

func saveJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return nil
}

// plotLosses saves the training and validation loss curves as a PNG.
func plotLosses(path string, h *train.History) error {
	p := plot.New()
	p.Title.Text = "loss"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "cross-entropy"

	points := func(losses []float64) plotter.XYs {
		xys := make(plotter.XYs, len(losses))
		for i, l := range losses {
			xys[i].X = float64(i + 1)
			xys[i].Y = l
		}
		return xys
	}
	trainLine, err := plotter.NewLine(points(h.Train))
	if err != nil {
		return errors.Wrap(err, "train curve")
	}
	valLine, err := plotter.NewLine(points(h.Val))
	if err != nil {
		return errors.Wrap(err, "validation curve")
	}
	valLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(trainLine, valLine, plotter.NewGrid())
	p.Legend.Add("train", trainLine)
	p.Legend.Add("validation", valLine)

	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "saving %s", path)
	}
	return nil
}
