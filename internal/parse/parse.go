// Package parse extracts structured content from free-form model output.
//
// Models do not reliably honor formatting instructions, so nothing in this
// package ever fails: missing or malformed fences degrade to empty strings
// and malformed JSON degrades to an empty object.
package parse

import (
	"strings"
)

// Code is a parsed three-part website payload.
type Code struct {
	HTML string `json:"html"`
	CSS  string `json:"css"`
	JS   string `json:"js"`
}

// CodeBlocks pulls html/css/javascript fenced blocks out of raw model text.
// Unrecognized fence tags are discarded. When the model inlines css and
// javascript inside a single html fence, a second legacy pass splits them
// back out on literal "css" / "javascript" marker lines.
func CodeBlocks(raw string) Code {
	var code Code

	parts := strings.Split(raw, "```")
	// parts alternate: prose, fenced, prose, fenced, ...
	for i := 1; i < len(parts); i += 2 {
		tag, body := splitFence(parts[i])
		switch tag {
		case "html":
			if code.HTML == "" {
				code.HTML = body
			}
		case "css":
			if code.CSS == "" {
				code.CSS = body
			}
		case "javascript", "js":
			if code.JS == "" {
				code.JS = body
			}
		}
	}

	// Legacy pass: some responses put everything in one html fence with
	// bare "css" and "javascript" lines between the parts.
	if code.HTML != "" && (code.CSS == "" || code.JS == "") {
		html, css, js := splitInline(code.HTML)
		code.HTML = html
		if code.CSS == "" {
			code.CSS = css
		}
		if code.JS == "" {
			code.JS = js
		}
	}

	return code
}

// splitFence separates the language tag from the fenced body. The tag may
// carry an inline body on the same line ("```html <div>").
func splitFence(segment string) (tag, body string) {
	segment = strings.TrimLeft(segment, " \t")
	nl := strings.IndexByte(segment, '\n')

	firstLine := segment
	rest := ""
	if nl >= 0 {
		firstLine = segment[:nl]
		rest = segment[nl+1:]
	}

	firstLine = strings.TrimSpace(firstLine)
	lower := strings.ToLower(firstLine)
	for _, candidate := range []string{"javascript", "html", "css", "js"} {
		if lower == candidate {
			return candidate, rest
		}
		if strings.HasPrefix(lower, candidate+" ") {
			inline := strings.TrimSpace(firstLine[len(candidate):])
			if rest != "" {
				inline += "\n" + rest
			}
			return candidate, inline
		}
	}
	return "", ""
}

// splitInline recovers css/js inlined into an html body behind bare marker
// lines, in that order: everything after a "css" line up to a "javascript"
// line is css, the remainder is js.
func splitInline(html string) (outHTML, outCSS, outJS string) {
	lines := strings.Split(html, "\n")
	cssAt, jsAt := -1, -1
	for i, line := range lines {
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "css":
			if cssAt < 0 {
				cssAt = i
			}
		case "javascript":
			if cssAt >= 0 && jsAt < 0 && i > cssAt {
				jsAt = i
			}
		}
	}

	if cssAt < 0 {
		return html, "", ""
	}
	outHTML = strings.Join(lines[:cssAt], "\n")
	if jsAt < 0 {
		outCSS = strings.Join(lines[cssAt+1:], "\n")
		return outHTML, outCSS, ""
	}
	outCSS = strings.Join(lines[cssAt+1:jsAt], "\n")
	outJS = strings.Join(lines[jsAt+1:], "\n")
	return outHTML, outCSS, outJS
}

// JSONObject returns the first brace-delimited object span in the text,
// greedily from the first "{" to the last "}", or "{}" when none exists.
// Callers unmarshal the result and treat failures as empty structures.
func JSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < 0 || end <= start {
		return "{}"
	}
	return raw[start : end+1]
}
