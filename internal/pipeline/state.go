// Package pipeline implements the staged website-generation engine:
// think → gather → image (optional) → codegen → modify (optional), all
// operating on one shared BuildState per invocation.
package pipeline

import (
	"strings"
	"unicode/utf8"

	"sitesmith/internal/parse"
)

// Stage names, in graph order.
const (
	StageThink   = "think"
	StageGather  = "gather"
	StageImage   = "image"
	StageCodegen = "codegen"
	StageModify  = "modify"
)

// Customization option keys, with their defaults.
const (
	OptionColorScheme = "color_scheme"
	OptionFontFamily  = "font_family"
	OptionLayout      = "layout"
	OptionThreadID    = "thread_id"
)

var optionDefaults = map[string]string{
	OptionColorScheme: "default",
	OptionFontFamily:  "Arial",
	OptionLayout:      "modern",
}

// CopySection is one entry of the per-section copy deck produced by the
// gather stage.
type CopySection struct {
	Section string   `json:"section"`
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Bullets []string `json:"bullets,omitempty"`
	CTA     string   `json:"cta,omitempty"`
}

// Requirements accumulates structured output across stages. Stages only
// ever add fields, never remove them.
type Requirements struct {
	Sitemap     []string          `json:"sitemap"`
	Components  []string          `json:"components"`
	StyleTokens map[string]string `json:"style_tokens"`
	Assumptions []string          `json:"assumptions"`
	CopyDeck    []CopySection     `json:"copy_deck,omitempty"`
}

// ImageBrief describes one image the model asked for.
type ImageBrief struct {
	Prompt string `json:"prompt"`
	Alt    string `json:"alt"`
}

// ImageAsset is one successfully generated image. URL is either a data URI
// or a remote URL. Order matches the briefs; failed briefs leave no gap.
type ImageAsset struct {
	URL string `json:"url"`
	Alt string `json:"alt"`
}

// Message is one transcript turn. The transcript is append-only and never
// truncated here; display truncation is a UI concern.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BuildState is the single mutable record threaded through every stage.
// Each invocation owns its state exclusively; cross-request survival is
// limited to the checkpoint keyed by ThreadID.
type BuildState struct {
	ThreadID   string            `json:"thread_id"`
	UserPrompt string            `json:"user_prompt"`
	Options    map[string]string `json:"options"`

	Plan         string       `json:"plan"`
	Requirements Requirements `json:"requirements"`

	DocsContext []string     `json:"docs_context,omitempty"`
	ImageBriefs []ImageBrief `json:"image_briefs,omitempty"`
	Images      []ImageAsset `json:"images,omitempty"`

	Code         *parse.Code `json:"code,omitempty"`
	ModifiedCode *parse.Code `json:"modified_code,omitempty"`

	ChangeRequest  string `json:"change_request,omitempty"`
	TargetSelector string `json:"target_selector,omitempty"`

	Messages  []Message `json:"messages"`
	Selectors []string  `json:"selectors,omitempty"`
}

// ActiveCode returns the authoritative code: modified_code supersedes code
// whenever both exist.
func (s *BuildState) ActiveCode() *parse.Code {
	if s.ModifiedCode != nil {
		return s.ModifiedCode
	}
	return s.Code
}

// Option returns a customization option, falling back to its default.
// Unknown keys are simply absent from the defaults map and return "".
func (s *BuildState) Option(key string) string {
	if v, ok := s.Options[key]; ok && v != "" {
		return v
	}
	return optionDefaults[key]
}

func (s *BuildState) appendMessage(role, content string) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content})
}

// StageEvent is emitted to the listener after every completed stage.
// Summaries are size-bounded so listeners never receive megabyte blobs.
type StageEvent struct {
	Stage   string            `json:"stage"`
	Summary map[string]string `json:"summary"`
	Images  []ImageAsset      `json:"images,omitempty"`
}

// Listener receives stage-complete events. Listener failures are isolated
// from pipeline control flow.
type Listener func(StageEvent)

const (
	summaryFieldLimit = 1200
	summaryImageLimit = 3
)

func truncateField(s string) string {
	if len(s) <= summaryFieldLimit {
		return s
	}
	// Back off to a rune boundary so the cut never emits invalid UTF-8.
	cut := summaryFieldLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

func truncateImages(images []ImageAsset) []ImageAsset {
	if len(images) <= summaryImageLimit {
		return images
	}
	return images[:summaryImageLimit]
}

func joinBounded(items []string) string {
	return truncateField(strings.Join(items, ", "))
}
