// Package text holds the word-level tokenizer and the output formatting helpers.
package text

import (
	"sort"
	"strings"
)

// Special tokens. Pad and unknown always take ids 0 and 1.
const (
	Pad = "<pad>"
	Unk = "<unk>"
	EOS = "<eos>"
)

const (
	PadID = 0
	UnkID = 1
)

// Tokenizer maps lowercase words to ids.
type Tokenizer struct {
	toID   map[string]int
	toWord []string
}

func NewTokenizer() *Tokenizer {
	t := &Tokenizer{toID: make(map[string]int)}
	for _, w := range []string{Pad, Unk, EOS} {
		t.add(w)
	}
	return t
}

func (t *Tokenizer) add(word string) {
	if _, ok := t.toID[word]; ok {
		return
	}
	t.toID[word] = len(t.toWord)
	t.toWord = append(t.toWord, word)
}

// Words lowercases text and splits it into words. Sentence terminators
// (. ! ?) become EOS tokens; other punctuation is kept attached to its word.
func Words(text string) []string {
	var words []string
	for _, field := range strings.Fields(strings.ToLower(text)) {
		trimmed := strings.TrimRight(field, ".!?")
		if trimmed != "" {
			words = append(words, trimmed)
		}
		if len(trimmed) < len(field) {
			words = append(words, EOS)
		}
	}
	return words
}

// BuildVocab adds the most frequent words of corpus until the vocabulary
// holds maxVocabSize entries (special tokens included). Ties are broken
// alphabetically. maxVocabSize <= 0 keeps every word.
func (t *Tokenizer) BuildVocab(corpus string, maxVocabSize int) {
	counts := make(map[string]int)
	for _, w := range Words(corpus) {
		if _, special := t.toID[w]; special {
			continue
		}
		counts[w]++
	}
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	for _, w := range words {
		if maxVocabSize > 0 && len(t.toWord) >= maxVocabSize {
			break
		}
		t.add(w)
	}
}

// Encode converts text to ids; unknown words map to UnkID.
func (t *Tokenizer) Encode(text string) []int {
	words := Words(text)
	ids := make([]int, len(words))
	for i, w := range words {
		id, ok := t.toID[w]
		if !ok {
			id = UnkID
		}
		ids[i] = id
	}
	return ids
}

// Tokens converts ids back to words. Ids outside the vocabulary become Unk.
func (t *Tokenizer) Tokens(ids []int) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		if id < 0 || id >= len(t.toWord) {
			out[i] = Unk
			continue
		}
		out[i] = t.toWord[id]
	}
	return out
}

// Decode joins the words of ids with spaces, dropping pad tokens.
func (t *Tokenizer) Decode(ids []int) string {
	var words []string
	for _, w := range t.Tokens(ids) {
		if w != Pad {
			words = append(words, w)
		}
	}
	return strings.Join(words, " ")
}

func (t *Tokenizer) EOS() string    { return EOS }
func (t *Tokenizer) PadID() int     { return PadID }
func (t *Tokenizer) VocabSize() int { return len(t.toWord) }

// Sequences encodes every non-empty line of corpus as one sequence.
func (t *Tokenizer) Sequences(corpus string) [][]int {
	var seqs [][]int
	for _, line := range strings.Split(corpus, "\n") {
		if ids := t.Encode(line); len(ids) > 0 {
			seqs = append(seqs, ids)
		}
	}
	return seqs
}
