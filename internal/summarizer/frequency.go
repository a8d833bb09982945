package summarizer

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// queryBoost is added per distinct query term a sentence contains.
const queryBoost = 1.0

var (
	sentencePattern = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
	markerPattern   = regexp.MustCompile(`--- Page \d+ ---`)
)

// Passage is a block of retrieved text. Weight scales every sentence drawn
// from it, typically the retrieval similarity.
type Passage struct {
	Text   string
	Page   int
	Weight float64
}

// Sentence is one selected sentence with the page it came from.
type Sentence struct {
	Text  string
	Page  int
	Score float64
}

// FrequencySummarizer ranks sentences by word frequency (stopwords filtered),
// boosted by overlap with the question.
type FrequencySummarizer struct {
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

// NewFrequencySummarizer creates a frequency-based sentence ranker summarizer.
func NewFrequencySummarizer() *FrequencySummarizer {
	return &FrequencySummarizer{
		tokenPattern: regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`),
		stopwords:    defaultStopwords(),
	}
}

type candidate struct {
	passage int
	order   int
	text    string
	page    int
	score   float64
}

// Rank picks up to maxSentences sentences across the passages and returns
// them in reading order (passage order, then position within the passage).
func (s *FrequencySummarizer) Rank(query string, passages []Passage, maxSentences int) []Sentence {
	if maxSentences <= 0 {
		maxSentences = 5
	}
	var cands []candidate
	for pi, p := range passages {
		for si, sent := range splitSentences(markerPattern.ReplaceAllString(p.Text, " ")) {
			cands = append(cands, candidate{passage: pi, order: si, text: sent, page: p.Page})
		}
	}
	if len(cands) == 0 {
		return nil
	}

	// Compute word frequencies
	freq := map[string]float64{}
	for _, c := range cands {
		for _, tok := range s.tokens(c.text) {
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		if v > maxF {
			maxF = v
		}
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}
	queryTerms := map[string]struct{}{}
	for _, tok := range s.tokens(query) {
		queryTerms[tok] = struct{}{}
	}

	for i := range cands {
		toks := s.tokens(cands[i].text)
		score := 0.0
		hits := map[string]struct{}{}
		for _, tok := range toks {
			score += freq[tok]
			if _, ok := queryTerms[tok]; ok {
				hits[tok] = struct{}{}
			}
		}
		// Normalize by sentence length to avoid bias
		if l := float64(len(toks)); l > 0 {
			score /= math.Sqrt(l)
		}
		score += queryBoost * float64(len(hits))
		if w := passages[cands[i].passage].Weight; w > 0 {
			score *= w
		}
		cands[i].score = score
	}

	ranked := make([]int, len(cands))
	for i := range ranked {
		ranked[i] = i
	}
	sort.SliceStable(ranked, func(i, j int) bool { return cands[ranked[i]].score > cands[ranked[j]].score })
	if maxSentences > len(ranked) {
		maxSentences = len(ranked)
	}
	// Keep original order among selected
	selected := append([]int(nil), ranked[:maxSentences]...)
	sort.Ints(selected)
	out := make([]Sentence, 0, len(selected))
	for _, idx := range selected {
		c := cands[idx]
		out = append(out, Sentence{Text: c.text, Page: c.page, Score: c.score})
	}
	return out
}

func splitSentences(text string) []string {
	var out []string
	end := 0
	for _, loc := range sentencePattern.FindAllStringIndex(text, -1) {
		if sent := normalizeSpace(text[loc[0]:loc[1]]); sent != "" {
			out = append(out, sent)
		}
		end = loc[1]
	}
	if tail := normalizeSpace(text[end:]); tail != "" {
		out = append(out, tail)
	}
	return out
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (s *FrequencySummarizer) tokens(text string) []string {
	lower := strings.ToLower(text)
	raw := s.tokenPattern.FindAllString(lower, -1)
	out := raw[:0]
	for _, t := range raw {
		if _, ok := s.stopwords[t]; ok {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"what", "which", "who", "whom", "how", "why", "when", "where", "does", "do", "did",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
