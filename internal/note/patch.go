// Package note locates daily notes on disk and rewrites their generated
// calendar section.
package note

import "strings"

// Header opens the generated section.
const Header = "### Calendar Events"

// Patch removes every calendar section from doc and inserts block under
// Header. It returns the new document and the number of sections removed.
//
// Patch is idempotent: Patch(Patch(doc, b), b) yields the same text as
// Patch(doc, b). The result uses the line ending of doc's first line for
// every line, so a CRLF note stays CRLF; a note mixing both is normalized
// to its first line's ending.
func Patch(doc, block string) (string, int) {
	lines, removed := removeSections(splitLines(doc))
	return joinLines(insertBlock(lines, block), lineEnding(doc)), removed
}

// RemoveCalendarSections drops each heading that mentions "calendar" along
// with every line up to the next heading.
func RemoveCalendarSections(doc string) (string, int) {
	lines, removed := removeSections(splitLines(doc))
	if len(lines) == 0 {
		return "", removed
	}
	return joinLines(lines, lineEnding(doc)), removed
}

// InsertBlock places Header and block after the anchor line, or at the top
// of doc when there is none. It does not remove existing sections.
//
// The anchor is the last line that looks like a table row linking a note:
// it contains "|", "[[" and "]]". When the text right after the insertion
// point is not a heading (frontmatter or prose), the block moves down to
// just before the next heading so that a later removal pass never reaches
// into that text. In that case the block is not immediately after the
// anchor.
func InsertBlock(doc, block string) string {
	return joinLines(insertBlock(splitLines(doc), block), lineEnding(doc))
}

func removeSections(lines []string) ([]string, int) {
	out := make([]string, 0, len(lines))
	inside := false
	removed := 0

	for _, line := range lines {
		heading := isHeading(line)
		switch {
		case heading && strings.Contains(strings.ToLower(line), "calendar"):
			inside = true
			removed++
		case inside && heading:
			inside = false
			out = append(out, line)
		case inside:
			// dropped
		default:
			out = append(out, line)
		}
	}
	return out, removed
}

func insertBlock(lines []string, block string) []string {
	anchor := -1
	for i, line := range lines {
		if isAnchor(line) {
			anchor = i
		}
	}

	cut := anchor + 1
	if first := firstNonBlank(lines, cut); first >= 0 && !isHeading(lines[first]) {
		cut = nextHeading(lines, first)
	}

	head := trimTrailingBlank(lines[:cut])
	tail := trimLeadingBlank(lines[cut:])

	blockLines := splitLines(block)
	out := make([]string, 0, len(head)+len(blockLines)+len(tail)+3)
	out = append(out, head...)
	if len(head) > 0 {
		out = append(out, "")
	}
	out = append(out, Header)
	out = append(out, blockLines...)
	if len(tail) > 0 {
		out = append(out, "")
		out = append(out, tail...)
	}
	return out
}

func isHeading(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "#")
}

func isAnchor(line string) bool {
	return strings.Contains(line, "|") && strings.Contains(line, "[[") && strings.Contains(line, "]]")
}

func isBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}

func firstNonBlank(lines []string, from int) int {
	for i := from; i < len(lines); i++ {
		if !isBlank(lines[i]) {
			return i
		}
	}
	return -1
}

func nextHeading(lines []string, from int) int {
	for i := from; i < len(lines); i++ {
		if isHeading(lines[i]) {
			return i
		}
	}
	return len(lines)
}

func trimTrailingBlank(lines []string) []string {
	end := len(lines)
	for end > 0 && isBlank(lines[end-1]) {
		end--
	}
	return lines[:end]
}

func trimLeadingBlank(lines []string) []string {
	start := 0
	for start < len(lines) && isBlank(lines[start]) {
		start++
	}
	return lines[start:]
}

// splitLines splits on "\n", accepting CRLF input. A final newline does not
// produce an extra empty line.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}

func joinLines(lines []string, eol string) string {
	return strings.Join(lines, eol) + eol
}

// lineEnding reports "\r\n" when the first line of doc ends with CRLF.
func lineEnding(doc string) string {
	if i := strings.IndexByte(doc, '\n'); i > 0 && doc[i-1] == '\r' {
		return "\r\n"
	}
	return "\n"
}
