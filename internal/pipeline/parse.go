package pipeline

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/model"
)

// ErrMalformedNote reports that the generation collaborator's output did not
// follow the canonical STATUS/NOTE/SOURCE grammar.
var ErrMalformedNote = errors.New("malformed generation output")

// StatusActionable is the only generation status that allows a run to
// proceed past the status gate.
const StatusActionable = "correction with trustworthy citation"

var (
	statusLineRe = regexp.MustCompile(`(?mi)^STATUS:\s*(.+)$`)
	noteBlockRe  = regexp.MustCompile(`(?msi)^NOTE:\s*(.+?)(?:^SOURCE:|\z)`)
	sourceLineRe = regexp.MustCompile(`(?mi)^SOURCE:\s*(\S+)\s*$`)
	urlRe        = regexp.MustCompile(`https?://\S+`)
)

// ParseNote parses the generation collaborator's raw text into a structured
// note. The grammar is a single canonical format:
//
//	STATUS: <status label>
//	NOTE: <body, may span lines>
//	SOURCE: <url>
//
// SOURCE is optional. Anything missing STATUS or NOTE is malformed.
func ParseNote(raw string) (model.ParsedNote, error) {
	statusMatch := statusLineRe.FindStringSubmatch(raw)
	noteMatch := noteBlockRe.FindStringSubmatch(raw)
	if statusMatch == nil || noteMatch == nil {
		return model.ParsedNote{}, ErrMalformedNote
	}

	note := model.ParsedNote{
		Status: normalizeStatus(statusMatch[1]),
		Text:   strings.TrimSpace(noteMatch[1]),
	}
	if note.Text == "" {
		return model.ParsedNote{}, ErrMalformedNote
	}

	if sourceMatch := sourceLineRe.FindStringSubmatch(raw); sourceMatch != nil {
		note.SourceURL = sourceMatch[1]
	}

	return note, nil
}

func normalizeStatus(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// The platform counts every URL as a fixed 23 characters regardless of its
// real length.
const urlCharCost = 23

// NoteCharCount returns the platform-counted length of a note body.
func NoteCharCount(text string) int {
	stripped := urlRe.ReplaceAllString(text, "")
	count := utf8.RuneCountInString(stripped)
	count += len(urlRe.FindAllString(text, -1)) * urlCharCost
	return count
}

// NoteCharBudget returns the character budget for a note body. Bodies that
// carry their own URL get the tighter budget since the platform reserves
// room for the citation link.
func NoteCharBudget(text string) int {
	if urlRe.MatchString(text) {
		return 275
	}
	return 280
}
