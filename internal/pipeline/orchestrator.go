package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sitesmith/internal/ai"
	"sitesmith/internal/assets"
	"sitesmith/internal/logging"
	"sitesmith/internal/metrics"
	"sitesmith/internal/parse"
	"sitesmith/internal/retrieval"
)

// Pipeline wires the model gateway, image generator, vector store, asset
// store and checkpoint store into the staged generation engine. Only the
// model is mandatory; every other collaborator degrades to a no-op.
type Pipeline struct {
	model       ai.Client
	images      ai.ImageGenerator
	retrieval   retrieval.Port
	assets      *assets.Store
	checkpoints CheckpointStore
}

// Option configures optional collaborators.
type Option func(*Pipeline)

func WithImageGenerator(g ai.ImageGenerator) Option {
	return func(p *Pipeline) { p.images = g }
}

func WithRetrieval(port retrieval.Port) Option {
	return func(p *Pipeline) { p.retrieval = port }
}

func WithAssetStore(store *assets.Store) Option {
	return func(p *Pipeline) { p.assets = store }
}

func WithCheckpointStore(store CheckpointStore) Option {
	return func(p *Pipeline) { p.checkpoints = store }
}

// New builds a pipeline around the given model client.
func New(model ai.Client, opts ...Option) *Pipeline {
	p := &Pipeline{model: model}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GenerateRequest is one full-site build invocation.
type GenerateRequest struct {
	Prompt         string
	Options        map[string]string
	GenerateImages bool
	ThreadID       string
	OnStageEvent   Listener
}

// EditRequest applies one change request against existing code.
type EditRequest struct {
	Code           parse.Code
	ChangeRequest  string
	TargetSelector string
	ThreadID       string
	Options        map[string]string
	OnStageEvent   Listener
}

type stageFunc func(context.Context, *BuildState) error

// Generate runs the full stage sequence and returns the final state. Any
// stage returning an error aborts the run; the last checkpoint keeps the
// completed stages' work.
func (p *Pipeline) Generate(ctx context.Context, req GenerateRequest) (*BuildState, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("prompt must not be empty")
	}

	state := newBuildState(req.Prompt, req.Options, req.ThreadID)
	logging.L().Info("pipeline start",
		zap.String("thread_id", state.ThreadID),
		zap.Bool("images", req.GenerateImages))

	type step struct {
		name string
		run  stageFunc
	}
	stages := []step{
		{StageThink, p.stageThink},
		{StageGather, p.stageGather},
	}
	if req.GenerateImages {
		stages = append(stages, step{StageImage, p.stageImage})
	}
	stages = append(stages, step{StageCodegen, p.stageCodegen})

	for _, stage := range stages {
		if err := p.runStage(ctx, stage.name, stage.run, state, req.OnStageEvent); err != nil {
			metrics.Get().PipelinesTotal.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("stage %s: %w", stage.name, err)
		}
	}

	metrics.Get().PipelinesTotal.WithLabelValues("completed").Inc()
	logging.L().Info("pipeline complete",
		zap.String("thread_id", state.ThreadID),
		zap.Int("selectors", len(state.Selectors)),
		zap.Int("images", len(state.Images)))
	return state, nil
}

// ApplyEdit runs only the modify stage against the supplied code.
func (p *Pipeline) ApplyEdit(ctx context.Context, req EditRequest) (*BuildState, error) {
	if strings.TrimSpace(req.ChangeRequest) == "" {
		return nil, fmt.Errorf("change request must not be empty")
	}

	state := newBuildState(req.ChangeRequest, req.Options, req.ThreadID)
	code := req.Code
	state.Code = &code
	state.ChangeRequest = req.ChangeRequest
	state.TargetSelector = req.TargetSelector

	logging.L().Info("edit start",
		zap.String("thread_id", state.ThreadID),
		zap.String("selector", req.TargetSelector))

	if err := p.runStage(ctx, StageModify, p.stageModify, state, req.OnStageEvent); err != nil {
		metrics.Get().PipelinesTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("stage %s: %w", StageModify, err)
	}

	metrics.Get().PipelinesTotal.WithLabelValues("completed").Inc()
	return state, nil
}

// Resume loads the last checkpointed state for a thread, or (nil, nil)
// when none exists.
func (p *Pipeline) Resume(ctx context.Context, threadID string) (*BuildState, error) {
	if p.checkpoints == nil {
		return nil, nil
	}
	cp, err := p.checkpoints.Load(ctx, threadID)
	if err != nil || cp == nil {
		return nil, err
	}
	return cp.State, nil
}

func (p *Pipeline) runStage(ctx context.Context, name string, run stageFunc, s *BuildState, listener Listener) error {
	start := time.Now()
	err := run(ctx, s)
	elapsed := time.Since(start)
	metrics.Get().ObserveStage(name, elapsed)

	if err != nil {
		logging.L().Error("stage failed",
			zap.String("thread_id", s.ThreadID),
			zap.String("stage", name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return err
	}

	logging.L().Info("stage complete",
		zap.String("thread_id", s.ThreadID),
		zap.String("stage", name),
		zap.Duration("elapsed", elapsed))

	p.emit(listener, StageEvent{
		Stage:   name,
		Summary: stageSummary(name, s),
		Images:  truncateImages(s.Images),
	})
	p.checkpoint(ctx, name, s)
	return nil
}

// emit delivers a stage event. A panicking listener is logged and isolated
// from pipeline control flow.
func (p *Pipeline) emit(listener Listener, ev StageEvent) {
	if listener == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.L().Warn("stage listener panicked",
				zap.String("stage", ev.Stage),
				zap.Any("panic", r))
		}
	}()
	listener(ev)
}

// checkpoint persists the state after a completed stage. Persistence
// failure never fails the run.
func (p *Pipeline) checkpoint(ctx context.Context, stage string, s *BuildState) {
	if p.checkpoints == nil {
		return
	}
	err := p.checkpoints.Save(ctx, &Checkpoint{
		ThreadID: s.ThreadID,
		Stage:    stage,
		State:    s,
		SavedAt:  time.Now(),
	})
	if err != nil {
		logging.L().Warn("checkpoint save failed",
			zap.String("thread_id", s.ThreadID),
			zap.String("stage", stage),
			zap.Error(err))
	}
}

func newBuildState(prompt string, options map[string]string, threadID string) *BuildState {
	if options == nil {
		options = map[string]string{}
	}
	if threadID == "" {
		threadID = options[OptionThreadID]
	}
	if threadID == "" {
		threadID = "thread-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	}
	return &BuildState{
		ThreadID:   threadID,
		UserPrompt: prompt,
		Options:    options,
		Requirements: Requirements{
			Sitemap:     []string{},
			Components:  []string{},
			StyleTokens: map[string]string{},
			Assumptions: []string{},
		},
	}
}

func stageSummary(stage string, s *BuildState) map[string]string {
	summary := map[string]string{"thread_id": s.ThreadID}
	switch stage {
	case StageThink:
		summary["plan"] = truncateField(s.Plan)
		summary["sitemap"] = joinBounded(s.Requirements.Sitemap)
		summary["assumptions"] = joinBounded(s.Requirements.Assumptions)
	case StageGather:
		summary["snippets"] = strconv.Itoa(len(s.DocsContext))
		summary["copy_sections"] = strconv.Itoa(len(s.Requirements.CopyDeck))
	case StageImage:
		summary["briefs"] = strconv.Itoa(len(s.ImageBriefs))
		summary["generated"] = strconv.Itoa(len(s.Images))
	case StageCodegen, StageModify:
		code := s.ActiveCode()
		if code != nil {
			summary["html"] = truncateField(code.HTML)
			summary["css"] = truncateField(code.CSS)
			summary["js"] = truncateField(code.JS)
		}
		summary["selectors"] = joinBounded(s.Selectors)
	}
	return summary
}
