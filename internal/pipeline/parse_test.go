package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNoteCanonical(t *testing.T) {
	raw := "STATUS: Correction with trustworthy citation\n" +
		"NOTE: The claim is off by a factor of ten.\n" +
		"See the linked figures.\n" +
		"SOURCE: https://example.com/figures\n"

	note, err := ParseNote(raw)
	require.NoError(t, err)

	assert.Equal(t, StatusActionable, note.Status)
	assert.Equal(t, "The claim is off by a factor of ten.\nSee the linked figures.", note.Text)
	assert.Equal(t, "https://example.com/figures", note.SourceURL)
}

func TestParseNoteWithoutSource(t *testing.T) {
	note, err := ParseNote("STATUS: no correction needed\nNOTE: Nothing to correct here.")
	require.NoError(t, err)

	assert.Equal(t, "no correction needed", note.Status)
	assert.Empty(t, note.SourceURL)
}

func TestParseNoteStatusNormalization(t *testing.T) {
	note, err := ParseNote("STATUS:   CORRECTION   with Trustworthy   CITATION\nNOTE: x")
	require.NoError(t, err)
	assert.Equal(t, StatusActionable, note.Status)
}

func TestParseNoteMalformed(t *testing.T) {
	cases := []string{
		"",
		"just some prose without any labels",
		"STATUS: correction with trustworthy citation",
		"NOTE: a note with no status",
		"STATUS: x\nNOTE:   \n",
	}

	for _, raw := range cases {
		_, err := ParseNote(raw)
		assert.ErrorIs(t, err, ErrMalformedNote, "input: %q", raw)
	}
}

func TestNoteCharCountURLCost(t *testing.T) {
	plain := strings.Repeat("x", 100)
	assert.Equal(t, 100, NoteCharCount(plain))

	withURL := plain + " https://example.com/a-very-long-path-that-would-otherwise-blow-the-budget"
	assert.Equal(t, 100+1+urlCharCost, NoteCharCount(withURL))
}

func TestNoteCharBudget(t *testing.T) {
	assert.Equal(t, 280, NoteCharBudget("no links here"))
	assert.Equal(t, 275, NoteCharBudget("see https://example.com"))
}
