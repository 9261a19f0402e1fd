package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dosco/nlsqld/internal/apperr"
	"github.com/dosco/nlsqld/internal/bridge"
	"github.com/dosco/nlsqld/internal/config"
	"github.com/dosco/nlsqld/internal/correction"
	"github.com/dosco/nlsqld/internal/display"
	"github.com/dosco/nlsqld/internal/llm"
	"github.com/dosco/nlsqld/internal/ontology"
	"github.com/dosco/nlsqld/internal/pathfind"
	"github.com/dosco/nlsqld/internal/sdata"
	"github.com/dosco/nlsqld/internal/secureview"
	"github.com/dosco/nlsqld/internal/sqlexec"
	"github.com/dosco/nlsqld/internal/sqlgen"
	"github.com/dosco/nlsqld/internal/sqlvalidate"
)

// queryExecutor is the slice of *sqlexec.Executor the pipeline depends
// on, narrowed to an interface so tests can substitute a fake database.
type queryExecutor interface {
	Execute(ctx context.Context, statement string, scopes sqlexec.Scopes, rowCap int) (sqlexec.Rows, error)
}

// artifacts bundles everything the pipeline rebuilds from the on-disk
// join graph, domain ontology, and display attributes files. A request
// in flight reads one artifacts value for its whole run, so a reload
// racing a request never hands it a graph from one generation and a
// generator built against another.
type artifacts struct {
	graph     *sdata.Graph
	extractor *ontology.Extractor // nil disables domain extraction
	generator *sqlgen.Generator
	display   *display.Registry
}

// Pipeline wires every SQL-agent component behind one Run call. It is
// built once per process; all per-request state lives in the State
// record Run returns, so a single Pipeline is safe for concurrent use.
// The join graph, domain ontology, and display attributes are held
// behind live, an atomic.Value swapped wholesale by Reload, the way the
// teacher's GraphJin engine embeds atomic.Value and serializes writers
// through its own reloadMu.
type Pipeline struct {
	live        atomic.Value // *artifacts
	reloadMu    sync.Mutex
	corrector   *correction.Corrector
	executor    queryExecutor
	secureViews *secureview.Map
	selector    llm.Completer
	pathOpts    pathfind.Options
	cfg         config.SQLPipeline
	timeout     time.Duration
}

// New builds a Pipeline. extractor may be nil when domain extraction is
// disabled.
func New(g *sdata.Graph, extractor *ontology.Extractor, generator *sqlgen.Generator, corrector *correction.Corrector, executor queryExecutor, secureViews *secureview.Map, disp *display.Registry, selector llm.Completer, cfg config.SQLPipeline) *Pipeline {
	opts := pathfind.DefaultOptions()
	if cfg.ConfidenceThreshold > 0 {
		opts.ConfidenceThreshold = cfg.ConfidenceThreshold
	}
	p := &Pipeline{
		corrector:   corrector,
		executor:    executor,
		secureViews: secureViews,
		selector:    selector,
		pathOpts:    opts,
		cfg:         cfg,
		timeout:     cfg.Timeout,
	}
	p.live.Store(&artifacts{graph: g, extractor: extractor, generator: generator, display: disp})
	return p
}

// current returns the artifacts snapshot in effect right now.
func (p *Pipeline) current() *artifacts {
	return p.live.Load().(*artifacts)
}

// Reload atomically swaps in a freshly parsed join graph, domain
// ontology, and display attributes set, built by the caller from the
// same artifact files WatchArtifact noticed changed. In-flight Run
// calls keep using the artifacts snapshot they already read; only
// requests that start after Reload returns see the new one. reloadMu
// only serializes concurrent reloads against each other, the way the
// teacher's Reload does with its own reloadMu; Run never blocks on it.
func (p *Pipeline) Reload(g *sdata.Graph, extractor *ontology.Extractor, generator *sqlgen.Generator, disp *display.Registry) {
	p.reloadMu.Lock()
	defer p.reloadMu.Unlock()
	p.live.Store(&artifacts{graph: g, extractor: extractor, generator: generator, display: disp})
}

// Run executes the full SQL agent pipeline for one question: domain
// resolution, table selection, bridge discovery, join planning, then
// the GENERATE/VALIDATE/EXECUTE/CORRECT/FINALIZE loop bounded by
// cfg.CorrectionMaxAttempts. cfg.Timeout bounds the whole call
// independently of the LLM and DB components' own shorter per-call
// timeouts: whichever stage is running when the pipeline deadline fires,
// the error this returns carries the stable "pipeline_timeout" code
// rather than whatever narrower timeout code that stage uses internally.
func (p *Pipeline) Run(ctx context.Context, question string, messages []llm.Message, hints []string, scopes sqlexec.Scopes) (*State, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	state := &State{Question: question, Messages: messages, Scopes: scopes}

	// a is the artifacts snapshot for this entire request: if Reload
	// races in mid-run, this call still sees one consistent graph,
	// extractor, generator, and display set from start to finish.
	a := p.current()

	wrapTimeout := func(err error) error {
		if err != nil && ctx.Err() == context.DeadlineExceeded {
			return apperr.Timeout("pipeline", err)
		}
		return err
	}

	if a.extractor != nil {
		resolved, err := a.extractor.ExtractAndResolve(ctx, question, a.graph)
		if err != nil {
			return state, wrapTimeout(err)
		}
		state.DomainResolutions = resolved
		for _, r := range resolved {
			state.DomainTerms = append(state.DomainTerms, r.Term)
		}
	}

	selected, err := selectTables(ctx, p.selector, question, state.DomainResolutions, hints, a.graph, p.cfg.MaxTablesInSelectionPrompt)
	if err != nil {
		return state, wrapTimeout(err)
	}

	bridgeResult, err := bridge.Discover(ctx, a.graph, selected, p.pathOpts)
	if err != nil {
		return state, wrapTimeout(err)
	}
	state.SelectedTables = bridgeResult.Tables

	allowed, joinPlan := planJoins(a.graph, bridgeResult, p.pathOpts)
	state.AllowedRelationships = allowed
	state.JoinPlan = joinPlan

	if err := p.runStateMachine(ctx, a, state); err != nil {
		return state, wrapTimeout(err)
	}
	return state, nil
}

func (p *Pipeline) runStateMachine(ctx context.Context, a *artifacts, state *State) error {
	maxAttempts := p.cfg.CorrectionMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var stmt *sqlgen.Statement
	stage := StageGenerate

	for {
		switch stage {
		case StageGenerate:
			s, raw, err := a.generator.Generate(ctx, sqlgen.Params{
				Question:             state.Question,
				SelectedTables:       state.SelectedTables,
				AllowedRelationships: state.AllowedRelationships,
				Resolutions:          state.DomainResolutions,
				JoinPlan:             state.JoinPlan,
				DefaultRowCap:        p.cfg.MaxQueryRows,
			})
			if err != nil {
				state.ValidationErrors = []string{err.Error()}
				stmt = nil
				stage = StageCorrect
				continue
			}
			stmt = s
			state.SQL = raw
			stage = StageValidate

		case StageValidate:
			if stmt == nil {
				stage = StageCorrect
				continue
			}
			result := sqlvalidate.Validate(a.graph, stmt, state.SelectedTables, state.AllowedRelationships)
			if !result.OK {
				state.ValidationErrors = result.Errors
				stage = StageCorrect
				continue
			}
			state.ValidationErrors = nil
			stage = StageExecute

		case StageExecute:
			rewritten, err := p.rewriteAndValidate(a, state.SQL)
			if err != nil {
				state.LastError = err.Error()
				stage = StageCorrect
				continue
			}
			rows, err := p.executor.Execute(ctx, rewritten, state.Scopes, p.cfg.MaxQueryRows)
			if err != nil {
				state.LastError = err.Error()
				stage = StageCorrect
				continue
			}
			state.ColumnNames = rows.Columns
			state.ResultRows = rows.Values
			state.LastError = ""
			stage = StageFinalize

		case StageCorrect:
			if state.CorrectionAttempts >= maxAttempts {
				stage = StageFinalizeFailed
				continue
			}
			errMsg := correctionError(state)
			state.CorrectionHistory = append(state.CorrectionHistory, correction.Record{SQL: state.SQL, Error: errMsg})
			state.CorrectionAttempts++

			tables := tablesInSQL(stmt, state.SelectedTables)
			newSQL, err := p.corrector.Repair(ctx, a.graph, state.Question, state.SQL, errMsg, tables, state.CorrectionHistory)
			if err != nil {
				stage = StageFinalizeFailed
				continue
			}
			if newSQL == state.SQL {
				state.LastError = "correction produced an identical statement"
				stage = StageFinalizeFailed
				continue
			}

			state.SQL = newSQL
			state.ValidationErrors = nil
			s, parseErr := sqlgen.Parse(newSQL)
			if parseErr != nil {
				state.ValidationErrors = []string{parseErr.Error()}
				stmt = nil
				stage = StageCorrect
				continue
			}
			stmt = s
			stage = StageValidate

		case StageFinalize:
			p.finalize(state)
			state.Stage = StageFinalize
			return nil

		case StageFinalizeFailed:
			state.Stage = StageFinalizeFailed
			return apperr.Execution(fmt.Sprintf("pipeline failed after %d correction attempts", state.CorrectionAttempts), nil)
		}
	}
}

// rewriteAndValidate applies the secure view rewrite and checks every
// FROM/JOIN identifier against the Join Graph and the Secure-View Map.
func (p *Pipeline) rewriteAndValidate(a *artifacts, sql string) (string, error) {
	if p.secureViews == nil {
		return sql, nil
	}
	rewritten, err := p.secureViews.Rewrite(sql)
	if err != nil {
		return "", err
	}
	known := make(map[string]bool, len(a.graph.TableNames()))
	for _, t := range a.graph.TableNames() {
		known[t] = true
	}
	if err := p.secureViews.Validate(rewritten, known); err != nil {
		return "", err
	}
	return rewritten, nil
}

func correctionError(state *State) string {
	if len(state.ValidationErrors) > 0 {
		return state.ValidationErrors[0]
	}
	return state.LastError
}

func tablesInSQL(stmt *sqlgen.Statement, fallback []string) []string {
	if stmt == nil {
		return fallback
	}
	seen := map[string]bool{}
	var out []string
	for _, t := range stmt.Tables() {
		if !seen[t] {
			out = append(out, t)
			seen[t] = true
		}
	}
	return out
}

// finalize converts result rows into a small structured payload, one map
// per row keyed by column name; Display Attributes projections and labels
// are not applied here. The natural-language answer itself is
// produced by the orchestrator's final-answer language-model call, which
// receives this structured payload as context.
func (p *Pipeline) finalize(state *State) {
	state.FinalStructured = state.ResultAsMaps()
}
