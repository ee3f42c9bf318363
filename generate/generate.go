// Package generate samples continuations from a trained model.Model.
package generate

import (
	"math"
	"math/rand/v2"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"tinylm/model"
	"tinylm/text"
)

var (
	ErrInvalidTemperature = errors.New("temperature must be positive")
	ErrEmptyPrompt        = errors.New("prompt encodes to no tokens")
)

// Tokenizer is what Generate needs from a vocabulary.
type Tokenizer interface {
	Encode(text string) []int
	Tokens(ids []int) []string
	// EOS is the sentence delimiter token.
	EOS() string
}

// Config controls sampling.
type Config struct {
	OutputLength int
	// Temperature divides the logits before sampling.
	Temperature float64
	Seed        uint64
}

func DefaultConfig() Config {
	return Config{OutputLength: 40, Temperature: 1, Seed: 42}
}

// Sample extends tokens by n sampled tokens and returns the whole sequence.
// Every step runs the model on the full sequence so far, so the cost grows
// quadratically with the output length.
func Sample(m *model.Model, tokens []int, n int, temperature float64, src rand.Source) ([]int, error) {
	if !(temperature > 0) {
		return nil, errors.Wrapf(ErrInvalidTemperature, "got %g", temperature)
	}
	if len(tokens) == 0 {
		return nil, ErrEmptyPrompt
	}
	seq := append([]int(nil), tokens...)
	v := m.Config().VocabSize
	for i := 0; i < n; i++ {
		logits, err := m.Forward([][]int{seq})
		if err != nil {
			return nil, errors.WithMessagef(err, "sampling token %d", i)
		}
		data := logits.Data().([]float64)
		last := data[len(data)-v:]
		next := distuv.NewCategorical(weights(last, temperature), src).Rand()
		seq = append(seq, int(next))
	}
	return seq, nil
}

// weights are the unnormalised softmax probabilities of logits/temperature.
func weights(logits []float64, temperature float64) []float64 {
	w := make([]float64, len(logits))
	copy(w, logits)
	floats.Scale(1/temperature, w)
	top := floats.Max(w)
	for i := range w {
		w[i] = math.Exp(w[i] - top)
	}
	return w
}

// Generate continues prompt and renders it as "==> PROMPT Continued text...".
func Generate(m *model.Model, prompt string, tok Tokenizer, cfg Config) (string, error) {
	ids := tok.Encode(prompt)
	seq, err := Sample(m, ids, cfg.OutputLength, cfg.Temperature, rand.NewPCG(cfg.Seed, cfg.Seed))
	if err != nil {
		return "", err
	}
	return Format(prompt, tok.Tokens(seq[len(ids):]), tok.EOS()), nil
}

// Format renders a prompt and its generated words.
func Format(prompt string, words []string, eos string) string {
	cont := text.CapitaliseSentences(" "+strings.Join(words, " "), eos)
	cont = strings.NewReplacer(" "+eos+" ", ". ", " "+eos, ".", eos, ". ").Replace(cont)
	return "==> " + strings.ToUpper(prompt) + cont + "..."
}
