package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// QueueEntry is one console line waiting to be relayed
type QueueEntry struct {
	Line       string
	EnqueuedAt time.Time
}

// JoinEntries joins entry lines with newlines, in queue order.
func JoinEntries(entries []QueueEntry) string {
	var sb strings.Builder
	for i, e := range entries {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(e.Line)
	}
	return sb.String()
}

// SplitChunks splits text into chunks of at most limit runes.
//
// Chunks end on line boundaries; the newline stays with the line it
// terminates, so concatenating the chunks gives back text unchanged. A single
// line longer than limit is hard-split. limit <= 0 disables splitting.
func SplitChunks(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if limit <= 0 {
		return []string{text}
	}

	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, seg := range strings.SplitAfter(text, "\n") {
		if seg == "" {
			continue
		}
		n := utf8.RuneCountInString(seg)
		if curLen+n <= limit {
			cur.WriteString(seg)
			curLen += n
			continue
		}
		flush()
		for n > limit {
			head, tail := splitAtRune(seg, limit)
			chunks = append(chunks, head)
			seg = tail
			n -= limit
		}
		cur.WriteString(seg)
		curLen = n
	}
	flush()
	return chunks
}

func splitAtRune(s string, n int) (string, string) {
	count := 0
	for i := range s {
		if count == n {
			return s[:i], s[i:]
		}
		count++
	}
	return s, ""
}
