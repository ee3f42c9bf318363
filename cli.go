package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"
)

func bindRunFlags(fs *pflag.FlagSet, cfg *runConfig) {
	fs.IntVar(&cfg.EmbedDim, "embed", cfg.EmbedDim, "embedding dimension")
	fs.IntVar(&cfg.Heads, "heads", cfg.Heads, "attention heads (must divide --embed)")
	fs.IntVar(&cfg.FeedForward, "ff", cfg.FeedForward, "feed-forward width, 0 for 2*embed")
	fs.IntVar(&cfg.MaxSeqLen, "max-len", cfg.MaxSeqLen, "maximum sequence length of the positional table")
	fs.IntVar(&cfg.Window, "window", cfg.Window, "input tokens per training sequence")
	fs.IntVar(&cfg.Batch, "batch", cfg.Batch, "batch size")
	fs.Float64Var(&cfg.Dropout, "dropout", cfg.Dropout, "dropout probability")
	fs.IntVar(&cfg.Epochs, "epochs", cfg.Epochs, "number of epochs")
	fs.Float64Var(&cfg.LR, "lr", cfg.LR, "base learning rate")
	fs.Float64Var(&cfg.Warmup, "warmup", cfg.Warmup, "warm-up length in epochs, may be fractional")
	fs.Float64Var(&cfg.Clip, "clip", cfg.Clip, "maximum gradient norm, 0 disables clipping")
	fs.IntVar(&cfg.Patience, "patience", cfg.Patience, "epochs without improvement before stopping, 0 never stops")
	fs.IntVar(&cfg.Vocab, "vocab", cfg.Vocab, "maximum vocabulary size, special tokens included")
	fs.Float64Var(&cfg.ValFrac, "val-frac", cfg.ValFrac, "fraction of sequences held out for validation")
	fs.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "seed for initialisation, shuffling, dropout and sampling")
	fs.StringArrayVar(&cfg.Prompts, "prompt", cfg.Prompts, "prompt to continue after training (repeatable)")
	fs.IntVar(&cfg.Length, "length", cfg.Length, "tokens generated per prompt")
	fs.Float64Var(&cfg.Temperature, "temperature", cfg.Temperature, "sampling temperature, logits are divided by it")
}

func newTrainCmd() *cobra.Command {
	cfg := defaultRunConfig()
	var corpusPath, outDir string
	var withPlot bool

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train on a text corpus, one sequence per line",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := os.ReadFile(corpusPath)
			if err != nil {
				return errors.Wrap(err, "reading corpus")
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return errors.Wrap(err, "creating output directory")
			}
			res, err := runTraining(string(raw), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if err := writeOutputs(outDir, corpusPath, string(raw), cfg, res, withPlot); err != nil {
				return err
			}
			klog.Infof("metrics and manifest written to %s", outDir)
			printSamples(cmd.OutOrStdout(), res)
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&corpusPath, "corpus", "", "path to the training corpus")
	fs.StringVar(&outDir, "out", "run", "output directory for metrics.json and manifest.json")
	fs.BoolVar(&withPlot, "plot", false, "also write loss.png")
	bindRunFlags(fs, &cfg)
	_ = cmd.MarkFlagRequired("corpus")
	return cmd
}
