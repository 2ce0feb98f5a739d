package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"sitesmith/internal/ai"
	"sitesmith/internal/parse"
	"sitesmith/internal/sections"
)

const (
	thinkSystemPrompt = `You are a web application architect. Given a website request, produce a build plan.
Respond with a single JSON object only, shaped as:
{"sitemap": ["..."], "components": ["..."], "style_tokens": {"...": "..."}, "assumptions": ["..."]}`

	copyDeckSystemPrompt = `You are a senior website copywriter. Using the build plan and any reference
material provided, write the copy for each section of the site.
Respond with a single JSON object only, shaped as:
{"copy_deck": [{"section": "...", "title": "...", "body": "...", "bullets": ["..."], "cta": "..."}]}`

	imageBriefSystemPrompt = `You are an art director. Propose 2 to 4 image briefs that fit the site's
style tokens and copy. Keep prompts concrete and photographic.
Respond with a single JSON object only, shaped as:
{"briefs": [{"prompt": "...", "alt": "..."}]}`

	codegenSystemPrompt = `You are an expert web developer specializing in creating modern, responsive websites.
Generate a complete website based on the user's description.

Your response should include:
1. Complete HTML code with semantic structure
2. CSS code for styling (modern, responsive design)
3. JavaScript code for interactivity (if needed)

Where an image placeholder like {ASSET_0} is provided, use it verbatim as the img src.

Format your response as:
` + "```html\n[HTML code here]\n```\n```css\n[CSS code here]\n```\n```javascript\n[JavaScript code here]\n```"

	modifySystemPrompt = `You are an expert web developer revising an existing website.
Apply the requested change to the provided code. Return the full updated files
as three fenced blocks in this order:
` + "```html\n...\n```\n```css\n...\n```\n```javascript\n...\n```" + `
Leave a block empty only if that file needs no change at all.`
)

const (
	maxImageBriefs    = 4
	retrievalTopK     = 8
	codegenSnippetCap = 10
)

func customizationText(s *BuildState) string {
	return fmt.Sprintf(`Customization requirements:
- Color scheme: %s
- Font family: %s
- Layout style: %s`,
		s.Option(OptionColorScheme), s.Option(OptionFontFamily), s.Option(OptionLayout))
}

// stageThink asks the model for a structured plan. A malformed response
// never fails the run: the raw text becomes the plan and the structured
// fields stay empty.
func (p *Pipeline) stageThink(ctx context.Context, s *BuildState) error {
	userPrompt := s.UserPrompt + "\n\n" + customizationText(s)
	s.appendMessage("system", thinkSystemPrompt)
	s.appendMessage("user", userPrompt)

	raw, err := p.model.Complete(ctx, []ai.ChatMessage{
		{Role: "system", Content: thinkSystemPrompt},
		{Role: "user", Content: userPrompt},
	}, 0.3, 2000)
	if err != nil {
		return err
	}
	s.appendMessage("assistant", raw)
	s.Plan = raw

	var plan struct {
		Sitemap     []string          `json:"sitemap"`
		Components  []string          `json:"components"`
		StyleTokens map[string]string `json:"style_tokens"`
		Assumptions []string          `json:"assumptions"`
	}
	if err := json.Unmarshal([]byte(parse.JSONObject(raw)), &plan); err == nil {
		if plan.Sitemap != nil {
			s.Requirements.Sitemap = plan.Sitemap
		}
		if plan.Components != nil {
			s.Requirements.Components = plan.Components
		}
		if plan.StyleTokens != nil {
			s.Requirements.StyleTokens = plan.StyleTokens
		}
		if plan.Assumptions != nil {
			s.Requirements.Assumptions = plan.Assumptions
		}
	}
	return nil
}

// stageGather retrieves reference snippets and synthesizes a per-section
// copy deck. An empty or malformed deck is non-fatal.
func (p *Pipeline) stageGather(ctx context.Context, s *BuildState) error {
	if p.retrieval != nil {
		s.DocsContext = p.retrieval.Search(ctx, s.UserPrompt, retrievalTopK)
	}

	var sb strings.Builder
	sb.WriteString("Website request: " + s.UserPrompt + "\n\n")
	sb.WriteString("Build plan:\n" + s.Plan + "\n")
	if len(s.DocsContext) > 0 {
		sb.WriteString("\nReference material (most relevant first):\n")
		for i, snippet := range s.DocsContext {
			sb.WriteString(fmt.Sprintf("[%d] %s\n", i+1, snippet))
		}
	}
	userPrompt := sb.String()

	s.appendMessage("user", userPrompt)
	raw, err := p.model.Complete(ctx, []ai.ChatMessage{
		{Role: "system", Content: copyDeckSystemPrompt},
		{Role: "user", Content: userPrompt},
	}, 0.5, 4000)
	if err != nil {
		return err
	}
	s.appendMessage("assistant", raw)

	var deck struct {
		CopyDeck []CopySection `json:"copy_deck"`
	}
	if err := json.Unmarshal([]byte(parse.JSONObject(raw)), &deck); err == nil && deck.CopyDeck != nil {
		s.Requirements.CopyDeck = deck.CopyDeck
	}
	return nil
}

// stageImage asks for 2–4 briefs, then renders each one. A brief whose
// generation fails is dropped; the stage keeps whatever succeeded.
func (p *Pipeline) stageImage(ctx context.Context, s *BuildState) error {
	deckJSON, _ := json.Marshal(s.Requirements.CopyDeck)
	tokensJSON, _ := json.Marshal(s.Requirements.StyleTokens)
	userPrompt := fmt.Sprintf("Website request: %s\n\nStyle tokens: %s\n\nCopy deck: %s",
		s.UserPrompt, tokensJSON, deckJSON)

	s.appendMessage("user", userPrompt)
	raw, err := p.model.Complete(ctx, []ai.ChatMessage{
		{Role: "system", Content: imageBriefSystemPrompt},
		{Role: "user", Content: userPrompt},
	}, 0.7, 1000)
	if err != nil {
		return err
	}
	s.appendMessage("assistant", raw)

	var briefs struct {
		Briefs []ImageBrief `json:"briefs"`
	}
	if err := json.Unmarshal([]byte(parse.JSONObject(raw)), &briefs); err != nil {
		return nil // no briefs, no images; the site renders without them
	}
	if len(briefs.Briefs) > maxImageBriefs {
		briefs.Briefs = briefs.Briefs[:maxImageBriefs]
	}
	s.ImageBriefs = briefs.Briefs

	if p.images == nil {
		return nil
	}
	for i, brief := range s.ImageBriefs {
		results := p.images.Generate(ctx, brief.Prompt, 1, "1024x768")
		if len(results) == 0 {
			continue
		}
		url := results[0].URL
		if url == "" && results[0].B64 != "" {
			if p.assets != nil {
				// Best-effort local copy; the data URI below is what
				// the markup embeds either way.
				p.assets.SaveBase64(results[0].B64, fmt.Sprintf("%s-asset-%d.png", s.ThreadID, i))
			}
			url = "data:image/png;base64," + results[0].B64
		}
		if url == "" {
			continue
		}
		s.Images = append(s.Images, ImageAsset{URL: url, Alt: brief.Alt})
	}
	return nil
}

// stageCodegen assembles the single generation prompt and parses the three
// fenced blocks. It always produces a code value; empty blocks are valid.
func (p *Pipeline) stageCodegen(ctx context.Context, s *BuildState) error {
	var sb strings.Builder
	sb.WriteString(s.UserPrompt + "\n\n" + customizationText(s) + "\n")
	sb.WriteString("\nBuild plan:\n" + s.Plan + "\n")

	if len(s.Requirements.CopyDeck) > 0 {
		deckJSON, _ := json.Marshal(s.Requirements.CopyDeck)
		sb.WriteString("\nCopy deck (use this text):\n" + string(deckJSON) + "\n")
	}
	if len(s.Images) > 0 {
		sb.WriteString("\nAvailable image assets (use the placeholder as img src):\n")
		for i, img := range s.Images {
			sb.WriteString(fmt.Sprintf("{ASSET_%d}: %s\n", i, img.Alt))
		}
	}
	if len(s.DocsContext) > 0 {
		snippets := s.DocsContext
		if len(snippets) > codegenSnippetCap {
			snippets = snippets[:codegenSnippetCap]
		}
		sb.WriteString("\nReference material:\n")
		for i, snippet := range snippets {
			sb.WriteString(fmt.Sprintf("[%d] %s\n", i+1, snippet))
		}
	}
	userPrompt := sb.String()

	s.appendMessage("user", userPrompt)
	raw, err := p.model.Complete(ctx, []ai.ChatMessage{
		{Role: "system", Content: codegenSystemPrompt},
		{Role: "user", Content: userPrompt},
	}, 1, 20000)
	if err != nil {
		return err
	}
	s.appendMessage("assistant", raw)

	code := parse.CodeBlocks(raw)
	for i, img := range s.Images {
		placeholder := "{ASSET_" + strconv.Itoa(i) + "}"
		code.HTML = strings.ReplaceAll(code.HTML, placeholder, img.URL)
		code.CSS = strings.ReplaceAll(code.CSS, placeholder, img.URL)
	}

	rewritten, selectors := sections.EnsureIDs(code.HTML)
	code.HTML = rewritten
	s.Code = &code
	s.Selectors = selectors

	p.indexArtifacts(ctx, s)
	return nil
}

// indexArtifacts feeds generated code back into the vector store so later
// builds for the same project can retrieve prior work. Best-effort.
func (p *Pipeline) indexArtifacts(ctx context.Context, s *BuildState) {
	if p.retrieval == nil || s.Code == nil {
		return
	}
	var texts []string
	var metas []map[string]string
	for _, artifact := range []struct{ lang, body string }{
		{"HTML", s.Code.HTML}, {"CSS", s.Code.CSS}, {"JS", s.Code.JS},
	} {
		if artifact.body == "" {
			continue
		}
		texts = append(texts, artifact.body)
		metas = append(metas, map[string]string{"type": "code", "lang": artifact.lang, "thread": s.ThreadID})
	}
	if len(texts) > 0 {
		p.retrieval.Insert(ctx, texts, metas)
	}
}

// stageModify applies a scoped edit to the current code. The selector
// restriction is advisory prompt text, not a mechanical guarantee. Blocks
// the model leaves empty fall back to the prior code so an edit can never
// wipe a file by accident.
func (p *Pipeline) stageModify(ctx context.Context, s *BuildState) error {
	current := s.ActiveCode()
	if current == nil {
		current = &parse.Code{}
	}

	var sb strings.Builder
	sb.WriteString("Change request: " + s.ChangeRequest + "\n")
	if s.TargetSelector != "" {
		sb.WriteString(fmt.Sprintf(
			"Restrict your edits to the section matching the CSS selector %q; leave everything else untouched.\n",
			s.TargetSelector))
	}
	sb.WriteString("\nCurrent HTML:\n```html\n" + current.HTML + "\n```\n")
	sb.WriteString("\nCurrent CSS:\n```css\n" + current.CSS + "\n```\n")
	sb.WriteString("\nCurrent JavaScript:\n```javascript\n" + current.JS + "\n```\n")
	userPrompt := sb.String()

	s.appendMessage("user", userPrompt)
	raw, err := p.model.Complete(ctx, []ai.ChatMessage{
		{Role: "system", Content: modifySystemPrompt},
		{Role: "user", Content: userPrompt},
	}, 0.5, 20000)
	if err != nil {
		return err
	}
	s.appendMessage("assistant", raw)

	merged := parse.CodeBlocks(raw)
	if strings.TrimSpace(merged.HTML) == "" {
		merged.HTML = current.HTML
	}
	if strings.TrimSpace(merged.CSS) == "" {
		merged.CSS = current.CSS
	}
	if strings.TrimSpace(merged.JS) == "" {
		merged.JS = current.JS
	}

	rewritten, selectors := sections.EnsureIDs(merged.HTML)
	merged.HTML = rewritten
	if len(selectors) > 0 {
		s.Selectors = selectors
	}
	s.ModifiedCode = &merged
	return nil
}
