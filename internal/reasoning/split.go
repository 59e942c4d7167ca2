// Package reasoning separates "thinking" spans from visible answer text.
// Models mark reasoning with <think> or <thought> blocks, and during
// streaming a tag can arrive one character at a time, so the scanner
// must tolerate tags that are only partially present yet.
package reasoning

import "strings"

var openTags = []string{"<think>", "<thought>"}

// Split is the derived view of one message's text. Seen distinguishes
// "no reasoning markers at all" from "a marker was seen but the block is
// empty"; callers use that to decide whether to show a reasoning panel.
type Split struct {
	Thought  string
	Seen     bool
	Content  string
	Thinking bool
}

// SplitThought scans text left to right and produces the thought/content
// split. It is a pure function of the whole string: re-running it on any
// prefix or on the same input gives a consistent, flicker-free result.
func SplitThought(text string) Split {
	var content, thought strings.Builder
	var out Split

	i := 0
	for i < len(text) {
		if text[i] != '<' {
			content.WriteByte(text[i])
			i++
			continue
		}

		tag, ok := matchOpenTag(text[i:])
		if ok {
			out.Seen = true
			bodyStart := i + len(tag)
			closeTag := "</" + tag[1:]
			rel := indexFold(text[bodyStart:], closeTag)
			if rel < 0 {
				// The stream is still inside this block. Nothing past an
				// unterminated open tag is ever visible content.
				appendThought(&thought, text[bodyStart:])
				out.Thinking = true
				break
			}
			appendThought(&thought, text[bodyStart:bodyStart+rel])
			i = bodyStart + rel + len(closeTag)
			continue
		}

		if anticipatesOpenTag(text[i:]) {
			// A trailing fragment like "<th" may still become a tag once
			// more bytes arrive. Suppress it rather than leak it into the
			// visible text for one render frame.
			out.Seen = true
			out.Thinking = true
			break
		}

		content.WriteByte(text[i])
		i++
	}

	out.Thought = strings.TrimSpace(thought.String())
	out.Content = strings.TrimSpace(content.String())
	return out
}

func appendThought(acc *strings.Builder, block string) {
	if acc.Len() > 0 {
		acc.WriteByte('\n')
	}
	acc.WriteString(block)
}

// matchOpenTag reports which open tag starts at the head of s.
func matchOpenTag(s string) (string, bool) {
	for _, tag := range openTags {
		if len(s) >= len(tag) && strings.EqualFold(s[:len(tag)], tag) {
			return tag, true
		}
	}
	return "", false
}

// anticipatesOpenTag reports whether s, which runs to the end of the
// scanned text, is a proper prefix of some open tag.
func anticipatesOpenTag(s string) bool {
	for _, tag := range openTags {
		if len(s) < len(tag) && strings.EqualFold(s, tag[:len(s)]) {
			return true
		}
	}
	return false
}

// indexFold is a case-insensitive strings.Index for ASCII tags.
func indexFold(s, substr string) int {
	return strings.Index(strings.ToLower(s), strings.ToLower(substr))
}
