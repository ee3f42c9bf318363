package main

import (
	"strings"

	"github.com/spf13/cobra"
)

var demoCorpus = strings.Join([]string{
	"the quick brown fox jumps over the lazy dog. the cat sat on the mat and purred contentedly.",
	"hello world! how are you today my friend? the sun is shining bright across the blue sky.",
	"birds are singing in the tall green trees. life is beautiful and full of wonder and joy.",
	"the ocean waves crash against the rocky shore with great force.",
	"mountains stand tall and proud in the distance. rivers flow gently through the peaceful valleys below.",
	"flowers bloom in spring with vibrant colors. winter brings snow and ice to the land.",
	"summer is warm and sunny and perfect for outdoor activities.",
	"autumn leaves fall gently to the ground in shades of red and gold.",
	"time moves forward always without stopping. love conquers all fears and doubts.",
	"hope lights the way through darkness. dreams come true sometimes if you believe.",
	"hard work pays off in the end. knowledge is power indeed and wisdom is precious.",
	"the story begins once upon a time in a land far away.",
	"characters develop through trials and tribulations. plots thicken with mystery and intrigue.",
	"endings bring resolution and closure. words have meaning and power.",
	"sentences form thoughts and ideas. paragraphs build arguments and narratives.",
	"language is the tool of communication and expression. creativity flows from imagination and inspiration.",
}, "\n")

// demoConfig is small enough to train in seconds.
func demoConfig() runConfig {
	cfg := defaultRunConfig()
	cfg.EmbedDim = 16
	cfg.Heads = 2
	cfg.MaxSeqLen = 64
	cfg.Window = 24
	cfg.Batch = 4
	cfg.Epochs = 8
	cfg.LR = 0.01
	cfg.Clip = 1
	cfg.ValFrac = 0.2
	cfg.Prompts = []string{"the cat", "hope", "the story"}
	cfg.Length = 12
	return cfg
}

func newDemoCmd() *cobra.Command {
	cfg := demoConfig()
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Train on a built-in corpus and print a few generations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := runTraining(demoCorpus, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			printSamples(cmd.OutOrStdout(), res)
			return nil
		},
	}
	bindRunFlags(cmd.Flags(), &cfg)
	return cmd
}
