package services

import (
	"strings"
	"testing"
	"time"
)

func TestSplitForAudio(t *testing.T) {
	tp := NewTextProcessor(100) // Small chunk size for testing

	tests := []struct {
		name      string
		input     string
		minChunks int
		maxChunks int
	}{
		{
			name:      "Empty text",
			input:     "",
			minChunks: 0,
			maxChunks: 0,
		},
		{
			name:      "Short text",
			input:     "This is a short text.",
			minChunks: 1,
			maxChunks: 1,
		},
		{
			name: "Long text with sentences",
			input: "This is the first sentence. This is the second sentence. This is the third sentence. " +
				"This is the fourth sentence. This is the fifth sentence.",
			minChunks: 2,
			maxChunks: 4,
		},
		{
			name:      "Single run-on sentence",
			input:     strings.Repeat("word ", 60) + "end.",
			minChunks: 3,
			maxChunks: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := tp.SplitForAudio(tt.input)
			if len(chunks) < tt.minChunks || len(chunks) > tt.maxChunks {
				t.Errorf("Expected %d-%d chunks, got %d", tt.minChunks, tt.maxChunks, len(chunks))
			}

			for i, chunk := range chunks {
				if len(chunk) > tp.AudioChunkSize {
					t.Errorf("Chunk %d exceeds max size: %d > %d", i, len(chunk), tp.AudioChunkSize)
				}
			}

			if joined := strings.Join(chunks, " "); strings.Join(strings.Fields(joined), " ") != strings.Join(strings.Fields(tt.input), " ") {
				t.Errorf("Chunks lost text: %q", joined)
			}
		})
	}
}

func TestSmartSplitKeepsRunesWhole(t *testing.T) {
	tp := NewTextProcessor(10)
	text := strings.Repeat("é", 30) // no spaces or punctuation

	for i, chunk := range tp.smartSplit(text, 10) {
		if !strings.HasPrefix(chunk, "é") || len(chunk) > 10 {
			t.Errorf("Chunk %d split inside a rune: %q", i, chunk)
		}
	}
}

func TestSplitForSubtitles(t *testing.T) {
	tp := NewTextProcessor(4500)
	tp.MaxSubtitleLength = 40

	cues := tp.SplitForSubtitles("Short one. This sentence is rather long, it has clauses, and it keeps going on; so we split it.")
	if len(cues) < 3 {
		t.Fatalf("Expected at least 3 cues, got %d: %q", len(cues), cues)
	}
	if cues[0] != "Short one." {
		t.Errorf("First cue = %q", cues[0])
	}
	for i, cue := range cues {
		if len(cue) > tp.MaxSubtitleLength {
			t.Errorf("Cue %d too long: %q", i, cue)
		}
	}
}

func TestTimeCues(t *testing.T) {
	tp := NewTextProcessor(4500)

	cues := tp.TimeCues("One two. Three four five six.", time.Second, 3*time.Second)
	if len(cues) != 2 {
		t.Fatalf("Expected 2 cues, got %d", len(cues))
	}
	if cues[0].Start != time.Second {
		t.Errorf("First cue starts at %v", cues[0].Start)
	}
	if cues[0].End != cues[1].Start {
		t.Errorf("Cues are not contiguous: %v vs %v", cues[0].End, cues[1].Start)
	}
	if cues[1].End != 4*time.Second {
		t.Errorf("Last cue ends at %v", cues[1].End)
	}
	if cues[1].End-cues[1].Start <= cues[0].End-cues[0].Start {
		t.Errorf("Longer cue should get more time")
	}

	if got := tp.TimeCues("", 0, time.Second); got != nil {
		t.Errorf("Expected no cues for empty text, got %v", got)
	}
}

func TestCleanScript(t *testing.T) {
	tp := NewTextProcessor(4500)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "Welcome to the talk.", "Welcome to the talk."},
		{"markdown and label", "**Narration:** \"Welcome to [upbeat music] our talk.\"", "Welcome to our talk."},
		{"heading and bullets", "# Slide 3\n- First point\n- Second point", "Slide 3 First point Second point"},
		{"stage direction", "Revenue grew (pause) forty percent.", "Revenue grew forty percent."},
		{"inner quotes kept", `"Quality" is what we "measure"`, `"Quality" is what we "measure"`},
		{"curly quotes", "“Hello there.”", "Hello there."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tp.CleanScript(tt.input); got != tt.want {
				t.Errorf("CleanScript(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestEstimateDuration(t *testing.T) {
	tp := NewTextProcessor(4500)

	tests := []struct {
		name        string
		input       string
		minDuration time.Duration
		maxDuration time.Duration
	}{
		{
			name:        "Empty text",
			input:       "",
			minDuration: 0,
			maxDuration: 0,
		},
		{
			name:        "10 words",
			input:       "one two three four five six seven eight nine ten",
			minDuration: 3 * time.Second, // 10 words / 150 wpm * 60s * 1.1
			maxDuration: 6 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			duration := tp.EstimateDuration(tt.input)
			if duration < tt.minDuration || duration > tt.maxDuration {
				t.Errorf("Expected duration between %v and %v, got %v", tt.minDuration, tt.maxDuration, duration)
			}
		})
	}
}

func TestCountWords(t *testing.T) {
	tp := NewTextProcessor(4500)

	tests := []struct {
		name     string
		input    string
		expected int
	}{
		{"Empty", "", 0},
		{"Single word", "hello", 1},
		{"Multiple words", "hello world test", 3},
		{"With punctuation", "Hello, world! How are you?", 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count := tp.countWords(tt.input)
			if count != tt.expected {
				t.Errorf("Expected %d words, got %d", tt.expected, count)
			}
		})
	}
}

func TestSplitIntoSentences(t *testing.T) {
	tp := NewTextProcessor(4500)

	tests := []struct {
		name     string
		input    string
		expected int
	}{
		{
			name:     "Single sentence",
			input:    "This is one sentence.",
			expected: 1,
		},
		{
			name:     "Multiple sentences",
			input:    "First sentence. Second sentence! Third sentence?",
			expected: 3,
		},
		{
			name:     "Decimal numbers",
			input:    "Growth was 3.5 percent. Next slide.",
			expected: 2,
		},
		{
			name:     "Full-width punctuation",
			input:    "第一句。第二句！第三句？",
			expected: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sentences := tp.splitIntoSentences(tt.input)
			if len(sentences) != tt.expected {
				t.Errorf("Expected %d sentences, got %d: %q", tt.expected, len(sentences), sentences)
			}
		})
	}
}

func TestGetStats(t *testing.T) {
	tp := NewTextProcessor(4500)

	stats := tp.GetStats("This is a test text. It has multiple sentences. We will analyze it.")
	for _, key := range []string{"total_chars", "total_words", "audio_chunks", "subtitle_cues", "estimated_duration"} {
		if _, ok := stats[key]; !ok {
			t.Errorf("Missing %s in stats", key)
		}
	}
	if stats["total_words"].(int) != 13 {
		t.Errorf("total_words = %v", stats["total_words"])
	}
}
