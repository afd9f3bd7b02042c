package services

import (
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// TextProcessor handles narration text: cleanup of model output, chunking for
// speech synthesis and cue splitting for subtitles
type TextProcessor struct {
	AudioChunkSize    int     // max characters per TTS request
	MaxSubtitleLength int     // max characters per subtitle cue
	AvgWordsPerMinute float64 // speaking rate used for estimates
}

// NewTextProcessor creates a new text processor
func NewTextProcessor(audioChunkSize int) *TextProcessor {
	return &TextProcessor{
		AudioChunkSize:    audioChunkSize,
		MaxSubtitleLength: 84,
		AvgWordsPerMinute: 150.0,
	}
}

var (
	stageDirection = regexp.MustCompile(`\[[^\]]*\]|\((?i:pause|beat|laughs|smiles|music|sfx)[^)]*\)`)
	markdownMarks  = regexp.MustCompile("(\\*\\*|__|\\*|`|~~)")
	headingPrefix  = regexp.MustCompile(`(?m)^\s*(#{1,6}|[-*•]|\d+\.)\s+`)
	labelPrefix    = regexp.MustCompile(`(?i)^\s*(script|narration|narrator|speaker|voiceover)\s*:\s*`)
	whitespaceRun  = regexp.MustCompile(`\s+`)
)

// CleanScript turns model output into plain speakable text. Markdown,
// bracketed stage directions, a leading "Narration:" label and wrapping
// quotes are removed.
func (tp *TextProcessor) CleanScript(text string) string {
	text = stageDirection.ReplaceAllString(text, " ")
	text = headingPrefix.ReplaceAllString(text, "")
	text = markdownMarks.ReplaceAllString(text, "")
	text = whitespaceRun.ReplaceAllString(text, " ")
	text = strings.TrimSpace(labelPrefix.ReplaceAllString(strings.TrimSpace(text), ""))

	for _, pair := range [][2]string{{`"`, `"`}, {"“", "”"}, {"'", "'"}, {"«", "»"}} {
		if len(text) >= len(pair[0])+len(pair[1]) &&
			strings.HasPrefix(text, pair[0]) && strings.HasSuffix(text, pair[1]) &&
			!strings.Contains(text[len(pair[0]):len(text)-len(pair[1])], pair[1]) {
			text = strings.TrimSpace(text[len(pair[0]) : len(text)-len(pair[1])])
		}
	}
	return text
}

// SplitForAudio splits text into chunks suitable for TTS
// - Maximum characters per chunk defined by AudioChunkSize
// - Splits strictly at sentence boundaries where possible
// - Uses smart splitting for long sentences (punctuation > phrases)
func (tp *TextProcessor) SplitForAudio(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return []string{}
	}
	if tp.AudioChunkSize <= 0 || len(text) <= tp.AudioChunkSize {
		return []string{text}
	}

	chunks := []string{}
	current := ""
	for _, sentence := range tp.splitIntoSentences(text) {
		potentialLen := len(current) + len(sentence)
		if current != "" {
			potentialLen++
		}

		if potentialLen <= tp.AudioChunkSize {
			if current != "" {
				current += " " + sentence
			} else {
				current = sentence
			}
			continue
		}

		if current != "" {
			chunks = append(chunks, current)
			current = ""
		}
		if len(sentence) > tp.AudioChunkSize {
			chunks = append(chunks, tp.smartSplit(sentence, tp.AudioChunkSize)...)
		} else {
			current = sentence
		}
	}

	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

// SplitForSubtitles splits text into subtitle cues.
// Prioritizes readability and sentence boundaries.
func (tp *TextProcessor) SplitForSubtitles(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return []string{}
	}

	chunks := []string{}
	for _, sentence := range tp.splitIntoSentences(text) {
		if len(sentence) <= tp.MaxSubtitleLength {
			chunks = append(chunks, sentence)
			continue
		}
		// Sentence too long, split by clauses (comma, semicolon)
		chunks = append(chunks, tp.splitByClauses(sentence, tp.MaxSubtitleLength)...)
	}
	return chunks
}

// Cue is one timed subtitle line.
type Cue struct {
	Text  string
	Start time.Duration
	End   time.Duration
}

// TimeCues spreads the subtitle cues of text over [start, start+duration),
// giving each cue a share proportional to its length.
func (tp *TextProcessor) TimeCues(text string, start, duration time.Duration) []Cue {
	lines := tp.SplitForSubtitles(text)
	if len(lines) == 0 || duration <= 0 {
		return nil
	}

	total := 0
	for _, line := range lines {
		total += utf8.RuneCountInString(line)
	}

	cues := make([]Cue, 0, len(lines))
	acc := 0
	for i, line := range lines {
		from := start + time.Duration(int64(duration)*int64(acc)/int64(total))
		acc += utf8.RuneCountInString(line)
		to := start + time.Duration(int64(duration)*int64(acc)/int64(total))
		if i == len(lines)-1 {
			to = start + duration
		}
		cues = append(cues, Cue{Text: line, Start: from, End: to})
	}
	return cues
}

// splitByClauses splits a long sentence by punctuation (comma, semicolon) or words if needed
func (tp *TextProcessor) splitByClauses(text string, limit int) []string {
	chunks := []string{}
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ';'
	})

	current := ""
	for i, part := range parts {
		part = strings.TrimSpace(part)
		suffix := ""
		if i < len(parts)-1 {
			suffix = ","
		}

		if len(current)+len(part)+len(suffix)+1 <= limit {
			if current != "" {
				current += " " + part + suffix
			} else {
				current = part + suffix
			}
			continue
		}

		if current != "" {
			chunks = append(chunks, current)
		}
		if len(part+suffix) > limit {
			chunks = append(chunks, tp.smartSplit(part+suffix, limit)...)
			current = ""
		} else {
			current = part + suffix
		}
	}

	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

// smartSplit splits a long text intelligently based on punctuation priorities
func (tp *TextProcessor) smartSplit(text string, limit int) []string {
	var chunks []string
	remaining := text

	for len(remaining) > limit {
		splitIdx := -1
		// Avoid tiny leading chunks: only look at the last two thirds of the window
		searchStart := limit / 3

		// 1. Major punctuation, keeping it with the first part
		for _, punc := range []string{";", ":", ",", " - ", " — "} {
			if idx := strings.LastIndex(remaining[searchStart:limit], punc); idx != -1 {
				if at := searchStart + idx + len(punc); at > splitIdx {
					splitIdx = at
				}
			}
		}

		// 2. Last space before the limit
		if splitIdx == -1 {
			splitIdx = strings.LastIndex(remaining[:limit], " ")
		}

		// 3. Hard split, never inside a UTF-8 sequence
		if splitIdx <= 0 {
			splitIdx = limit
			for splitIdx > 0 && !utf8.RuneStart(remaining[splitIdx]) {
				splitIdx--
			}
			if splitIdx == 0 {
				splitIdx = limit
			}
		}

		if chunk := strings.TrimSpace(remaining[:splitIdx]); chunk != "" {
			chunks = append(chunks, chunk)
		}
		remaining = strings.TrimSpace(remaining[splitIdx:])
	}

	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

// EstimateDuration estimates how long it takes to speak the text
func (tp *TextProcessor) EstimateDuration(text string) time.Duration {
	words := tp.countWords(text)
	if words == 0 || tp.AvgWordsPerMinute <= 0 {
		return 0
	}
	minutes := float64(words) / tp.AvgWordsPerMinute
	// 10% buffer for natural pauses
	return time.Duration(minutes * 1.1 * float64(time.Minute))
}

// countWords counts the number of words in text
func (tp *TextProcessor) countWords(text string) int {
	return len(strings.Fields(text))
}

// splitIntoSentences splits text into trimmed, non-empty sentences
func (tp *TextProcessor) splitIntoSentences(text string) []string {
	sentences := []string{}
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)

		// A terminator followed by whitespace ends a sentence; "3.5" and "e.g.x" do not
		if tp.isSentenceEnding(r) && (i+1 == len(runes) || unicode.IsSpace(runes[i+1]) || isFullWidthEnding(r)) {
			if sentence := strings.TrimSpace(current.String()); sentence != "" {
				sentences = append(sentences, sentence)
			}
			current.Reset()
		}
	}

	if sentence := strings.TrimSpace(current.String()); sentence != "" {
		sentences = append(sentences, sentence)
	}
	return sentences
}

// isSentenceEnding checks if character is a sentence ending
func (tp *TextProcessor) isSentenceEnding(r rune) bool {
	return r == '.' || r == '!' || r == '?' || isFullWidthEnding(r)
}

func isFullWidthEnding(r rune) bool {
	return r == '。' || r == '！' || r == '？'
}

// GetStats returns statistics about a script
func (tp *TextProcessor) GetStats(text string) map[string]any {
	return map[string]any{
		"total_chars":        utf8.RuneCountInString(text),
		"total_words":        tp.countWords(text),
		"audio_chunks":       len(tp.SplitForAudio(text)),
		"subtitle_cues":      len(tp.SplitForSubtitles(text)),
		"estimated_duration": tp.EstimateDuration(text).Seconds(),
	}
}
