// Package ingest turns crawled documentation into stored knowledge-base
// chunks: clean, split, normalize, embed, store.
package ingest

import (
	"strings"
)

// footerMarkers end page content; anything at or after a line containing
// one is boilerplate.
var footerMarkers = []string{
	"Did you find this page useful",
	"Thanks for rating this page",
	"Report a problem on this page",
}

// CleanMarkdown strips crawl boilerplate: navigation lines before the
// first H1 heading and feedback footers after the content.
func CleanMarkdown(text string) string {
	lines := strings.Split(text, "\n")

	start := 0
	for i, line := range lines {
		if strings.HasPrefix(line, "# ") {
			start = i
			break
		}
	}

	end := len(lines)
	for i := start; i < len(lines); i++ {
		if containsAny(lines[i], footerMarkers) {
			end = i
			break
		}
	}

	return strings.TrimSpace(strings.Join(lines[start:end], "\n"))
}

func containsAny(line string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// SplitMarkdown chunks markdown by ## headings with a size cap:
// sections over maxChars split on blank-line paragraph boundaries, and a
// single oversized paragraph is sliced at maxChars. Blank chunks are
// dropped.
func SplitMarkdown(text string, maxChars int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if maxChars <= 0 {
		maxChars = 4000
	}

	var sections []string
	var current []string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "## ") && len(current) > 0 {
			sections = append(sections, strings.Join(current, "\n"))
			current = []string{line}
		} else {
			current = append(current, line)
		}
	}
	if len(current) > 0 {
		sections = append(sections, strings.Join(current, "\n"))
	}

	var chunks []string
	for _, section := range sections {
		if len(section) <= maxChars {
			chunks = append(chunks, section)
			continue
		}

		var chunk string
		for _, para := range strings.Split(section, "\n\n") {
			if len(chunk)+len(para)+2 > maxChars {
				if chunk != "" {
					chunks = append(chunks, chunk)
				}
				if len(para) > maxChars {
					for i := 0; i < len(para); i += maxChars {
						end := i + maxChars
						if end > len(para) {
							end = len(para)
						}
						chunks = append(chunks, para[i:end])
					}
					chunk = ""
				} else {
					chunk = para
				}
			} else if chunk == "" {
				chunk = para
			} else {
				chunk = chunk + "\n\n" + para
			}
		}
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}

	out := chunks[:0]
	for _, c := range chunks {
		if trimmed := strings.TrimSpace(c); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
