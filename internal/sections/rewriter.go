// Package sections post-processes generated markup so every major
// heading-bearing section carries a stable, unique identifier. The
// identifiers become CSS selectors for later targeted edits.
//
// This is a best-effort textual rewrite, not a markup parse. Malformed or
// partial tags are skipped, never an error.
package sections

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	headingRe = regexp.MustCompile(`(?i)<h[1-4][\s>]`)
	// The leading class excludes hyphenated attributes such as data-id.
	idAttrRe      = regexp.MustCompile(`(?i)(^|[^-\w])id\s*=\s*"([^"]*)"`)
	sectionOpenRe = regexp.MustCompile(`(?i)<section\b[^>]*\bdata-section-id\s*=\s*"([^"]+)"`)
	sectionEndRe  = regexp.MustCompile(`(?i)</section>`)
)

// EnsureIDs rewrites html so each h1–h4 heading sits inside a section
// container tagged with a unique identifier, both as id and data-section-id
// so downstream lookups can use either. It returns the rewritten markup and
// the "#id" selectors in document order.
//
// Running it on its own output is safe: headings already wrapped in a
// matching container are recorded but not wrapped again.
func EnsureIDs(html string) (string, []string) {
	if html == "" {
		return "", nil
	}

	var (
		out           []string
		selectors     []string
		seen          = map[string]bool{}
		openGenerated bool
		existingOpen  string // id of an input-supplied wrapper we are inside
	)

	for _, line := range strings.Split(html, "\n") {
		if m := sectionOpenRe.FindStringSubmatch(line); m != nil {
			if openGenerated {
				out = append(out, "</section>")
				openGenerated = false
			}
			existingOpen = m[1]
			out = append(out, line)
			continue
		}
		if sectionEndRe.MatchString(line) && existingOpen != "" {
			existingOpen = ""
			out = append(out, line)
			continue
		}

		loc := headingRe.FindStringIndex(line)
		if loc == nil {
			out = append(out, line)
			continue
		}

		tagEnd := strings.IndexByte(line[loc[0]:], '>')
		if tagEnd < 0 {
			// Partial tag spilling onto the next line; leave it alone.
			out = append(out, line)
			continue
		}
		tag := line[loc[0] : loc[0]+tagEnd+1]

		id := ""
		if m := idAttrRe.FindStringSubmatch(tag); m != nil {
			id = m[2]
		}
		if id == "" {
			id = newSectionID(seen)
			injected := tag[:3] + fmt.Sprintf(` id=%q`, id) + tag[3:]
			line = line[:loc[0]] + injected + line[loc[0]+tagEnd+1:]
		} else if seen[id] && existingOpen != id {
			// Duplicate id within one document: re-synthesize with a
			// random suffix so every selector stays unique.
			id = newSectionID(seen)
			replaced := idAttrRe.ReplaceAllString(tag, `${1}id="`+id+`"`)
			line = line[:loc[0]] + replaced + line[loc[0]+tagEnd+1:]
		}
		seen[id] = true

		if existingOpen == id {
			// Already wrapped by a previous run.
			selectors = append(selectors, "#"+id)
			out = append(out, line)
			continue
		}

		if openGenerated {
			out = append(out, "</section>")
		}
		out = append(out, fmt.Sprintf(`<section id=%q data-section-id=%q>`, id, id))
		openGenerated = true
		selectors = append(selectors, "#"+id)
		out = append(out, line)
	}

	if openGenerated {
		out = append(out, "</section>")
	}

	return strings.Join(out, "\n"), selectors
}

func newSectionID(seen map[string]bool) string {
	for {
		id := "sec-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
		if !seen[id] {
			return id
		}
	}
}
