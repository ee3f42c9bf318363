package main

import (
	"crypto/sha256"
	"fmt"
	"io"
	"math/rand/v2"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"tinylm/data"
	"tinylm/generate"
	"tinylm/model"
	"tinylm/text"
	"tinylm/train"
)

// runConfig is everything a training run needs besides the corpus text.
type runConfig struct {
	EmbedDim    int
	Heads       int
	FeedForward int
	MaxSeqLen   int
	Window      int
	Batch       int
	Dropout     float64
	Epochs      int
	LR          float64
	Warmup      float64
	Clip        float64
	Patience    int
	Vocab       int
	ValFrac     float64
	Seed        uint64

	Prompts     []string
	Length      int
	Temperature float64
}

func defaultRunConfig() runConfig {
	mc := model.DefaultConfig(0)
	tc := train.DefaultConfig()
	gc := generate.DefaultConfig()
	return runConfig{
		EmbedDim:    mc.EmbedDim,
		Heads:       mc.NumHeads,
		MaxSeqLen:   mc.MaxSeqLen,
		Window:      32,
		Batch:       16,
		Dropout:     mc.Dropout,
		Epochs:      tc.Epochs,
		LR:          tc.LearningRate,
		Warmup:      tc.WarmupEpochs,
		Patience:    3,
		Vocab:       2000,
		ValFrac:     0.1,
		Seed:        tc.Seed,
		Length:      gc.OutputLength,
		Temperature: gc.Temperature,
	}
}

func (c runConfig) validate() error {
	switch {
	case c.Window < 1 || c.Window > c.MaxSeqLen:
		return errors.Errorf("window %d must be in [1, %d]", c.Window, c.MaxSeqLen)
	case c.ValFrac < 0 || c.ValFrac >= 1:
		return errors.Errorf("validation fraction %g must be in [0, 1)", c.ValFrac)
	case c.Patience < 0:
		return errors.Errorf("patience %d", c.Patience)
	}
	return nil
}

func (c runConfig) modelConfig(vocab int) model.Config {
	return model.Config{
		VocabSize:      vocab,
		EmbedDim:       c.EmbedDim,
		NumHeads:       c.Heads,
		FeedForwardDim: c.FeedForward,
		MaxSeqLen:      c.MaxSeqLen,
		Dropout:        c.Dropout,
		PadToken:       text.PadID,
	}
}

func (c runConfig) trainConfig(progress io.Writer) train.Config {
	tc := train.DefaultConfig()
	tc.Epochs = c.Epochs
	tc.LearningRate = c.LR
	tc.WarmupEpochs = c.Warmup
	tc.ClipGrads = c.Clip
	tc.Seed = c.Seed
	tc.EarlyStop = train.Never{}
	if c.Patience > 0 {
		tc.EarlyStop = train.Patience{Epochs: c.Patience}
	}
	tc.Reporter = train.SilentReporter{}
	if progress != nil {
		tc.Reporter = train.NewProgressReporter(progress)
	}
	return tc
}

// runResult is the outcome of a training run.
type runResult struct {
	Model     *model.Model
	Tokenizer *text.Tokenizer
	History   *train.History
	Sequences int
	Samples   []string
}

// runTraining tokenizes corpus, trains a model on it and samples one
// continuation per prompt. progress may be nil.
func runTraining(corpus string, cfg runConfig, progress io.Writer) (*runResult, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	corpus = text.Normalize(corpus)
	klog.Infof("corpus: %s", humanize.Bytes(uint64(len(corpus))))

	tok := text.NewTokenizer()
	tok.BuildVocab(corpus, cfg.Vocab)
	seqs := data.Windows(tok.Sequences(corpus), cfg.Window)
	klog.Infof("vocabulary: %d tokens, %s sequences", tok.VocabSize(), humanize.Comma(int64(len(seqs))))

	data.Shuffle(seqs, rand.NewPCG(cfg.Seed, cfg.Seed))
	trainSeqs, valSeqs := data.Split(seqs, 1-cfg.ValFrac)
	if len(trainSeqs) == 0 {
		return nil, errors.Wrap(train.ErrEmptyDataset, "corpus has fewer than two usable sequences")
	}
	if len(valSeqs) == 0 {
		klog.Warningf("empty validation split, validating on the training data")
		valSeqs = trainSeqs
	}
	trainDS, err := data.NextTokenBatches(trainSeqs, cfg.Batch, text.PadID)
	if err != nil {
		return nil, err
	}
	valDS, err := data.NextTokenBatches(valSeqs, cfg.Batch, text.PadID)
	if err != nil {
		return nil, err
	}

	m, err := model.New(cfg.modelConfig(tok.VocabSize()), model.WithSeed(cfg.Seed))
	if err != nil {
		return nil, err
	}
	klog.Infof("model: %s parameters", humanize.Comma(int64(m.NumParams())))

	hist, err := train.Train(m, trainDS, valDS, cfg.trainConfig(progress))
	if err != nil {
		return nil, err
	}

	res := &runResult{Model: m, Tokenizer: tok, History: hist, Sequences: len(seqs)}
	gc := generate.Config{OutputLength: cfg.Length, Temperature: cfg.Temperature, Seed: cfg.Seed}
	for _, prompt := range cfg.Prompts {
		out, err := generate.Generate(m, prompt, tok, gc)
		if err != nil {
			return nil, errors.WithMessagef(err, "generating from %q", prompt)
		}
		res.Samples = append(res.Samples, out)
	}
	return res, nil
}

// writeOutputs stores metrics.json, manifest.json and optionally loss.png in dir.
func writeOutputs(dir, corpusPath, corpus string, cfg runConfig, res *runResult, withPlot bool) error {
	if err := saveJSON(filepath.Join(dir, "metrics.json"), newMetrics(res.History)); err != nil {
		return err
	}
	manifest := Manifest{
		RunID:        uuid.NewString(),
		CorpusPath:   corpusPath,
		CorpusHash:   fmt.Sprintf("%x", sha256.Sum256([]byte(corpus)))[:16],
		VocabSize:    res.Tokenizer.VocabSize(),
		Sequences:    res.Sequences,
		EmbedDim:     cfg.EmbedDim,
		Heads:        cfg.Heads,
		FeedForward:  res.Model.Config().FFDim(),
		MaxSeqLen:    cfg.MaxSeqLen,
		Window:       cfg.Window,
		Batch:        cfg.Batch,
		Dropout:      cfg.Dropout,
		Epochs:       cfg.Epochs,
		LR:           cfg.LR,
		Warmup:       cfg.Warmup,
		Clip:         cfg.Clip,
		Patience:     cfg.Patience,
		Seed:         cfg.Seed,
		Parameters:   res.Model.NumParams(),
		TrainedAt:    time.Now(),
		BuildVersion: "dev",
	}
	if err := saveJSON(filepath.Join(dir, "manifest.json"), manifest); err != nil {
		return err
	}
	if withPlot {
		return plotLosses(filepath.Join(dir, "loss.png"), res.History)
	}
	return nil
}
