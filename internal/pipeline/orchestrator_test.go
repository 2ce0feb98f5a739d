package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitesmith/internal/ai"
	"sitesmith/internal/parse"
)

// scriptedModel replays canned responses in call order.
type scriptedModel struct {
	responses []string
	calls     int
	failAt    int // 0-based call index that errors, -1 for never
	err       error
}

func newScriptedModel(responses ...string) *scriptedModel {
	return &scriptedModel{responses: responses, failAt: -1}
}

func (m *scriptedModel) Complete(_ context.Context, _ []ai.ChatMessage, _ float32, _ int) (string, error) {
	i := m.calls
	m.calls++
	if m.failAt >= 0 && i == m.failAt {
		return "", m.err
	}
	if i >= len(m.responses) {
		return "", errors.New("scripted model exhausted")
	}
	return m.responses[i], nil
}

type fakeImageGenerator struct {
	results map[string][]ai.ImageResult
	calls   []string
}

func (f *fakeImageGenerator) Generate(_ context.Context, prompt string, _ int, _ string) []ai.ImageResult {
	f.calls = append(f.calls, prompt)
	return f.results[prompt]
}

const bakeryThinkResponse = `{
  "sitemap": ["Home", "Menu", "Contact"],
  "components": ["hero", "product-grid", "footer"],
  "style_tokens": {"primary": "#8b5a2b"},
  "assumptions": ["single-page layout"]
}`

const bakeryDeckResponse = `{
  "copy_deck": [
    {"section": "hero", "title": "Crumb & Crust", "body": "Fresh sourdough daily.", "cta": "Order now"}
  ]
}`

const bakeryCodegenResponse = "Here is your site:\n" +
	"```html\n<h1>Crumb & Crust</h1>\n<p>Fresh sourdough daily.</p>\n<h2>Menu</h2>\n<ul><li>Sourdough</li></ul>\n```\n" +
	"```css\nbody { font-family: Arial; }\n```\n" +
	"```javascript\nconsole.log('hi');\n```\n"

func TestGenerateEndToEnd(t *testing.T) {
	model := newScriptedModel(bakeryThinkResponse, bakeryDeckResponse, bakeryCodegenResponse)
	checkpoints := NewMemoryCheckpointStore()

	var events []StageEvent
	p := New(model, WithCheckpointStore(checkpoints))
	state, err := p.Generate(context.Background(), GenerateRequest{
		Prompt: "a website for a small bakery",
		OnStageEvent: func(ev StageEvent) {
			events = append(events, ev)
		},
	})
	require.NoError(t, err)
	require.NotNil(t, state)

	assert.True(t, strings.HasPrefix(state.ThreadID, "thread-"))
	assert.Equal(t, []string{"Home", "Menu", "Contact"}, state.Requirements.Sitemap)
	assert.Len(t, state.Requirements.CopyDeck, 1)

	require.NotNil(t, state.Code)
	assert.Contains(t, state.Code.HTML, "<section")
	assert.Contains(t, state.Code.HTML, "data-section-id")
	assert.NotEmpty(t, state.Selectors)
	for _, sel := range state.Selectors {
		assert.True(t, strings.HasPrefix(sel, "#"), "selector %q", sel)
	}
	assert.Equal(t, "body { font-family: Arial; }", strings.TrimSpace(state.Code.CSS))

	// Images were not requested, so the stage never ran.
	stageNames := make([]string, 0, len(events))
	for _, ev := range events {
		stageNames = append(stageNames, ev.Stage)
	}
	assert.Equal(t, []string{StageThink, StageGather, StageCodegen}, stageNames)

	cp, err := checkpoints.Load(context.Background(), state.ThreadID)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, StageCodegen, cp.Stage)
	assert.NotNil(t, cp.State.Code)
}

func TestGenerateMalformedThinkJSON(t *testing.T) {
	model := newScriptedModel(
		"I think a bakery site needs warmth and a hero image.",
		bakeryDeckResponse,
		bakeryCodegenResponse,
	)
	p := New(model)
	state, err := p.Generate(context.Background(), GenerateRequest{
		Prompt: "a website for a small bakery",
	})
	require.NoError(t, err)

	assert.Equal(t, "I think a bakery site needs warmth and a hero image.", state.Plan)
	assert.Empty(t, state.Requirements.Sitemap)
	assert.Empty(t, state.Requirements.Assumptions)
	require.NotNil(t, state.Code)
	assert.Contains(t, state.Code.HTML, "<section")
}

func TestGenerateEmptyPrompt(t *testing.T) {
	p := New(newScriptedModel())
	_, err := p.Generate(context.Background(), GenerateRequest{Prompt: "   "})
	assert.Error(t, err)
}

func TestGenerateModelFailureAborts(t *testing.T) {
	model := newScriptedModel(bakeryThinkResponse, bakeryDeckResponse, bakeryCodegenResponse)
	model.failAt = 1
	model.err = &ai.ModelError{Kind: ai.KindServerError, StatusCode: 502, Message: "bad gateway"}

	p := New(model)
	_, err := p.Generate(context.Background(), GenerateRequest{Prompt: "a bakery"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage gather")

	var me *ai.ModelError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, ai.KindServerError, me.Kind)
}

func TestGenerateWithImages(t *testing.T) {
	briefsResponse := `{"briefs": [
		{"prompt": "warm bakery interior", "alt": "bakery interior"},
		{"prompt": "croissant close-up", "alt": "croissant"}
	]}`
	codegen := "```html\n<h1>Bakery</h1>\n<img src=\"{ASSET_0}\" alt=\"bakery interior\">\n```\n```css\n\n```\n```javascript\n\n```\n"

	model := newScriptedModel(bakeryThinkResponse, bakeryDeckResponse, briefsResponse, codegen)
	images := &fakeImageGenerator{results: map[string][]ai.ImageResult{
		"warm bakery interior": {{B64: "aGVsbG8="}},
		// croissant brief fails and is dropped
	}}

	p := New(model, WithImageGenerator(images))
	state, err := p.Generate(context.Background(), GenerateRequest{
		Prompt:         "a bakery",
		GenerateImages: true,
	})
	require.NoError(t, err)

	assert.Len(t, state.ImageBriefs, 2)
	require.Len(t, state.Images, 1)
	assert.Equal(t, "data:image/png;base64,aGVsbG8=", state.Images[0].URL)
	assert.Equal(t, "bakery interior", state.Images[0].Alt)

	require.NotNil(t, state.Code)
	assert.Contains(t, state.Code.HTML, "src=\"data:image/png;base64,aGVsbG8=\"")
	assert.NotContains(t, state.Code.HTML, "{ASSET_0}")
}

func TestGenerateListenerPanicIsIsolated(t *testing.T) {
	model := newScriptedModel(bakeryThinkResponse, bakeryDeckResponse, bakeryCodegenResponse)
	p := New(model)
	state, err := p.Generate(context.Background(), GenerateRequest{
		Prompt: "a bakery",
		OnStageEvent: func(StageEvent) {
			panic("listener bug")
		},
	})
	require.NoError(t, err)
	assert.NotNil(t, state.Code)
}

func TestApplyEditEmptyBlocksKeepPrior(t *testing.T) {
	original := parse.Code{
		HTML: "<section id=\"hero\" data-section-id=\"hero\">\n<h1 id=\"hero\">Bakery</h1>\n</section>",
		CSS:  "h1 { color: brown; }",
		JS:   "console.log('hi');",
	}
	// Model returns only an updated html block; css and js fences are empty.
	response := "```html\n<section id=\"hero\" data-section-id=\"hero\">\n<h1 id=\"hero\">Boulangerie</h1>\n</section>\n```\n```css\n\n```\n```javascript\n\n```\n"

	p := New(newScriptedModel(response))
	state, err := p.ApplyEdit(context.Background(), EditRequest{
		Code:           original,
		ChangeRequest:  "rename the bakery to Boulangerie",
		TargetSelector: "#hero",
	})
	require.NoError(t, err)

	require.NotNil(t, state.ModifiedCode)
	assert.Contains(t, state.ModifiedCode.HTML, "Boulangerie")
	assert.Equal(t, original.CSS, state.ModifiedCode.CSS)
	assert.Equal(t, original.JS, state.ModifiedCode.JS)
	assert.Contains(t, state.Selectors, "#hero")

	// modified_code supersedes code
	assert.Same(t, state.ModifiedCode, state.ActiveCode())
}

func TestApplyEditUnparseableResponseFallsBack(t *testing.T) {
	original := parse.Code{HTML: "<h1>Bakery</h1>", CSS: "body {}", JS: ""}
	p := New(newScriptedModel("Sorry, I cannot help with that."))

	state, err := p.ApplyEdit(context.Background(), EditRequest{
		Code:          original,
		ChangeRequest: "make the header blue",
	})
	require.NoError(t, err)

	require.NotNil(t, state.ModifiedCode)
	// The original html comes back, section-wrapped, with the css intact.
	assert.Contains(t, state.ModifiedCode.HTML, "Bakery")
	assert.Contains(t, state.ModifiedCode.HTML, "<section")
	assert.Equal(t, "body {}", state.ModifiedCode.CSS)
}

func TestApplyEditRequiresChangeRequest(t *testing.T) {
	p := New(newScriptedModel())
	_, err := p.ApplyEdit(context.Background(), EditRequest{Code: parse.Code{HTML: "<h1>x</h1>"}})
	assert.Error(t, err)
}

func TestOptionDefaultsFlowIntoPrompts(t *testing.T) {
	model := newScriptedModel(bakeryThinkResponse, bakeryDeckResponse, bakeryCodegenResponse)
	p := New(model)
	state, err := p.Generate(context.Background(), GenerateRequest{
		Prompt:  "a bakery",
		Options: map[string]string{OptionColorScheme: "earthy"},
	})
	require.NoError(t, err)

	require.NotEmpty(t, state.Messages)
	var thinkUser string
	for _, msg := range state.Messages {
		if msg.Role == "user" {
			thinkUser = msg.Content
			break
		}
	}
	assert.Contains(t, thinkUser, "Color scheme: earthy")
	assert.Contains(t, thinkUser, "Font family: Arial")
	assert.Contains(t, thinkUser, "Layout style: modern")
}

func TestThreadIDFromOptions(t *testing.T) {
	model := newScriptedModel(bakeryThinkResponse, bakeryDeckResponse, bakeryCodegenResponse)
	p := New(model)
	state, err := p.Generate(context.Background(), GenerateRequest{
		Prompt:  "a bakery",
		Options: map[string]string{OptionThreadID: "thread-fixed123"},
	})
	require.NoError(t, err)
	assert.Equal(t, "thread-fixed123", state.ThreadID)
}
