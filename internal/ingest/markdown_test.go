package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanMarkdown(t *testing.T) {
	t.Run("strips navigation before first heading", func(t *testing.T) {
		in := "[Home](/)\n[Docs](/docs)\n\n# Getting Started\n\nReal content."
		assert.Equal(t, "# Getting Started\n\nReal content.", CleanMarkdown(in))
	})

	t.Run("strips feedback footer", func(t *testing.T) {
		in := "# Page\n\nContent.\n\nDid you find this page useful?\nYes / No"
		assert.Equal(t, "# Page\n\nContent.", CleanMarkdown(in))
	})

	t.Run("no heading keeps whole document", func(t *testing.T) {
		in := "Just a paragraph.\n\nAnother one."
		assert.Equal(t, in, CleanMarkdown(in))
	})

	t.Run("footer marker before heading is ignored", func(t *testing.T) {
		in := "Report a problem on this page\n# Page\n\nContent."
		assert.Equal(t, "# Page\n\nContent.", CleanMarkdown(in))
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Equal(t, "", CleanMarkdown(""))
	})
}

func TestSplitMarkdown_BySections(t *testing.T) {
	in := "# Title\n\nIntro.\n\n## First\n\nBody one.\n\n## Second\n\nBody two."

	chunks := SplitMarkdown(in, 4000)
	require.Len(t, chunks, 3)
	assert.Equal(t, "# Title\n\nIntro.", chunks[0])
	assert.True(t, strings.HasPrefix(chunks[1], "## First"))
	assert.True(t, strings.HasPrefix(chunks[2], "## Second"))
}

func TestSplitMarkdown_OversizedSectionSplitsOnParagraphs(t *testing.T) {
	para1 := strings.Repeat("a", 60)
	para2 := strings.Repeat("b", 60)
	in := "## Big\n\n" + para1 + "\n\n" + para2

	chunks := SplitMarkdown(in, 80)
	require.Len(t, chunks, 2)
	assert.Contains(t, chunks[0], para1)
	assert.Equal(t, para2, chunks[1])
}

func TestSplitMarkdown_OversizedParagraphHardSliced(t *testing.T) {
	para := strings.Repeat("x", 250)

	chunks := SplitMarkdown(para, 100)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 100)
	assert.Len(t, chunks[1], 100)
	assert.Len(t, chunks[2], 50)
}

func TestSplitMarkdown_Degenerate(t *testing.T) {
	assert.Nil(t, SplitMarkdown("", 100))
	assert.Nil(t, SplitMarkdown("   \n\n  ", 100))

	// Zero maxChars falls back to the default instead of looping.
	chunks := SplitMarkdown("# Title\n\nShort.", 0)
	require.Len(t, chunks, 1)
}
