package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"sensor-agent/artifact"
	"sensor-agent/config"
	"sensor-agent/dataset"
	apperrors "sensor-agent/errors"
	"sensor-agent/llmclient"
	"sensor-agent/prompts"
	"sensor-agent/report"
	"sensor-agent/sandbox"
	"sensor-agent/team"
	"sensor-agent/web/types"
	"sensor-agent/workspace"

	"go.uber.org/zap"
)

// Agent ties the query pipeline together: intent resolution, the report path,
// and the orchestrated developer/executor path with its run workspace
// lifecycle.
type Agent struct {
	cfg        *config.Config
	workspaces *workspace.Manager
	reconciler *artifact.Reconciler
	reports    *report.Generator
	datasets   *dataset.Cache
	logger     *zap.Logger

	// Seams for tests; production wiring is installed by New.
	sandboxFor func(runDir string) sandbox.Executor
	teamFor    func(sb sandbox.Executor) *team.Team
}

func New(cfg *config.Config, logger *zap.Logger) (*Agent, error) {
	cache, err := dataset.NewCache(cfg.DatasetCacheSize, logger)
	if err != nil {
		return nil, err
	}
	a := &Agent{
		cfg:        cfg,
		workspaces: workspace.NewManager(cfg.WorkspaceDir, logger),
		reconciler: artifact.NewReconciler(cfg.ArtifactDir, logger),
		reports:    report.NewGenerator(cfg.ReportDir, logger),
		datasets:   cache,
		logger:     logger,
	}
	a.sandboxFor = func(runDir string) sandbox.Executor {
		return sandbox.NewLocal(sandbox.LocalOptions{
			WorkDir:       runDir,
			PythonCommand: cfg.PythonCommand,
			ProvisionVenv: cfg.ProvisionVenv,
			VenvDir:       filepath.Join(cfg.WorkspaceDir, ".venv"),
			VenvPackages:  cfg.VenvPackages,
		}, logger)
	}
	a.teamFor = func(sb sandbox.Executor) *team.Team {
		developer := team.NewDeveloper(cfg, logger)
		executor := team.NewExecutorAgent(sb, logger)
		return team.New(developer, executor, sb, cfg.MaxTurns, logger)
	}
	return a, nil
}

// RunResult summarizes one orchestrated query.
type RunResult struct {
	// LastDeveloperMessage is the final code_developer turn, the part of the
	// transcript kept visible after the run.
	LastDeveloperMessage string
	StopReason           string
	// GeneratedFile is the filename announced via the GENERATED: sentinel, if
	// any developer turn produced one.
	GeneratedFile string
	Artifact      artifact.Slot
}

// RunQuery executes one orchestrated query against the session workspace.
// Every event of the team stream is forwarded to emit as it is produced.
// Cleanup is guaranteed in order: team state is saved into sctx, the newest
// plot is promoted into the persistent artifact slot, and the run directory
// is destroyed. Each step is best-effort and never masks the run itself.
func (a *Agent) RunQuery(ctx context.Context, prompt, sessionDir string, sctx *types.SessionContext, emit func(team.Event)) (RunResult, error) {
	prev := artifact.Slot{Path: sctx.LastArtifactPath, Name: sctx.LastArtifactName}
	a.reconciler.SweepStale(sessionDir, prev)

	run, err := a.workspaces.CreateRun(sessionDir)
	if err != nil {
		return RunResult{}, fmt.Errorf("create run workspace: %w", err)
	}
	defer a.workspaces.DestroyRun(run)

	sb := a.sandboxFor(run.Dir)
	tm := a.teamFor(sb)

	if len(sctx.TeamState) > 0 {
		if err := tm.LoadState(sctx.TeamState); err != nil {
			a.logger.Warn("Could not restore team state, starting fresh", zap.Error(err))
		}
	}

	var result RunResult
	for ev := range tm.RunStream(ctx, buildTask(prompt, run)) {
		if emit != nil {
			emit(ev)
		}
		switch {
		case ev.Stop:
			result.StopReason = ev.StopReason
		case ev.Source == team.DeveloperName:
			result.LastDeveloperMessage = ev.Content
			if name := team.GeneratedFilename(ev.Content); name != "" {
				result.GeneratedFile = name
			}
		}
	}

	if state, err := tm.SaveState(); err != nil {
		a.logger.Warn("Could not save team state", zap.Error(err))
	} else {
		sctx.TeamState = state
	}

	slot := a.reconciler.PromoteLatest(run.Dir, run.ID, prev)
	sctx.LastArtifactPath = slot.Path
	sctx.LastArtifactName = slot.Name
	result.Artifact = slot

	return result, nil
}

// buildTask extends the user prompt with the dataset files seeded into the
// run directory, so the developer knows what it can open.
func buildTask(prompt string, run *workspace.Run) string {
	paths := run.DatasetPaths()
	if len(paths) == 0 {
		return prompt
	}
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}
	return prompt + "\nAvailable datasets in the working directory: " + strings.Join(names, ", ")
}

// GenerateReport resolves the prompt's dataset and column references and
// renders the statistical summary PDF. It returns the written path and the
// canonical columns covered.
func (a *Agent) GenerateReport(ctx context.Context, prompt, sessionDir string) (string, []string, error) {
	columns, dsName := dataset.ParsePrompt(prompt)
	if len(columns) == 0 {
		return "", nil, apperrors.WrapError(apperrors.ErrInvalidInput,
			"no recognized sensor columns in the report request")
	}

	path := dataset.ResolveDatasetPath(sessionDir, dsName)
	if path == "" {
		return "", nil, apperrors.WrapError(apperrors.ErrNoDataset,
			"no uploaded dataset matches the request")
	}

	table, err := a.datasets.Load(path)
	if err != nil {
		return "", nil, err
	}

	reportPath, err := a.reports.Generate(table, columns)
	if err != nil {
		return "", nil, err
	}
	a.logger.Info("Report request served",
		zap.String("dataset", filepath.Base(path)),
		zap.Strings("columns", columns))
	return reportPath, columns, nil
}

// WantsReport reports whether the prompt should take the report path rather
// than the orchestration path. Both the report keyword and at least one
// recognized column are required; a bare "report" with no known column still
// goes to the developer agent.
func WantsReport(prompt string) bool {
	if !dataset.WantsReport(prompt) {
		return false
	}
	columns, _ := dataset.ParsePrompt(prompt)
	return len(columns) > 0
}

// GenerateTitle asks the LLM for a short session title seeded by the first
// user message. Falls back to a fixed title on any failure.
func (a *Agent) GenerateTitle(ctx context.Context, content string) string {
	const fallback = "Sensor Analysis Session"

	messages := []types.AgentMessage{
		{Role: "system", Content: prompts.TitleGenerator()},
		{Role: "user", Content: fmt.Sprintf("User message:\n%s\n\nRespond with only the title.", content)},
	}
	client := llmclient.New(a.cfg, a.logger)
	title, err := client.Chat(ctx, messages, nil)
	if err != nil {
		a.logger.Warn("Title generation failed, using fallback", zap.Error(err))
		return fallback
	}

	cleaned := sanitizeTitle(title)
	if cleaned == "" {
		return fallback
	}
	return cleaned
}

// sanitizeTitle keeps the first usable line, strips quoting and a leading
// "Title:" label, and caps the result at five words.
func sanitizeTitle(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		candidate := strings.Trim(strings.TrimSpace(line), `"'`)
		if strings.HasPrefix(strings.ToLower(candidate), "title:") {
			candidate = strings.TrimSpace(candidate[len("title:"):])
		}
		if candidate == "" {
			continue
		}
		words := strings.Fields(candidate)
		if len(words) > 5 {
			words = words[:5]
		}
		return strings.Join(words, " ")
	}
	return ""
}
