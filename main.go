// tinylm trains a small word-level transformer language model and samples from it.
package main

import (
	goflag "flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var (
	markerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	sampleStyle = lipgloss.NewStyle().PaddingLeft(2)
	headerStyle = lipgloss.NewStyle().Bold(true).Reverse(true).Padding(0, 1)
)

func main() {
	klog.InitFlags(nil)
	root := &cobra.Command{
		Use:           "tinylm",
		Short:         "Train and sample a tiny transformer language model",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().AddGoFlagSet(goflag.CommandLine)
	root.AddCommand(newTrainCmd(), newDemoCmd())

	if err := root.Execute(); err != nil {
		klog.Errorf("%+v", err)
		klog.Flush()
		os.Exit(1)
	}
	klog.Flush()
}

// printSamples renders generated continuations.
func printSamples(w io.Writer, res *runResult) {
	best := res.History.Best
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("best model: epoch %d, val loss %.4f", best.Epoch, best.Loss)))
	for _, s := range res.Samples {
		marker, rest, _ := strings.Cut(s, " ")
		fmt.Fprintln(w, sampleStyle.Render(markerStyle.Render(marker)+" "+rest))
	}
}
