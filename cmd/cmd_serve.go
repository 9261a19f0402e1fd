package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dosco/nlsqld/internal/apperr"
	"github.com/dosco/nlsqld/internal/config"
	"github.com/dosco/nlsqld/internal/convstore"
	"github.com/dosco/nlsqld/internal/correction"
	"github.com/dosco/nlsqld/internal/display"
	"github.com/dosco/nlsqld/internal/httpserv"
	"github.com/dosco/nlsqld/internal/llm"
	"github.com/dosco/nlsqld/internal/ontology"
	"github.com/dosco/nlsqld/internal/orchestrator"
	"github.com/dosco/nlsqld/internal/pipeline"
	"github.com/dosco/nlsqld/internal/sdata"
	"github.com/dosco/nlsqld/internal/secureview"
	"github.com/dosco/nlsqld/internal/sqlexec"
	"github.com/dosco/nlsqld/internal/sqlgen"
	"github.com/dosco/nlsqld/internal/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the nlsqld HTTP service",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	defer log.Sync() //nolint:errcheck

	shutdownTracing, err := tracing.Init(cfg.AppName)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background()) //nolint:errcheck

	pingUpstream(cfg, log)

	g, err := loadGraph(cfg)
	if err != nil {
		return err
	}

	disp, err := loadDisplay(cfg, g)
	if err != nil {
		return err
	}

	client, err := llm.New(cfg.LLM)
	if err != nil {
		return err
	}

	var extractor *ontology.Extractor
	if cfg.Domain.ExtractionEnabled {
		registry, err := loadOntology(cfg, g)
		if err != nil {
			return err
		}
		extractor = ontology.NewExtractor(client, registry)
	}

	executor, err := sqlexec.Open(context.Background(), cfg.Database)
	if err != nil {
		return err
	}
	defer executor.Close() //nolint:errcheck

	secureViews := secureview.NewMap(viewsByTable(cfg.SecureBaseTables()))
	generator := sqlgen.New(client, g, disp)
	corrector := correction.New(client)

	p := pipeline.New(g, extractor, generator, corrector, executor, secureViews, disp, client, cfg.SQLPipeline)

	stopWatchers, err := watchArtifacts(cfg, client, p, log)
	if err != nil {
		return err
	}
	defer stopWatchers()

	sqlAgent := orchestrator.NewSQLAgent(p, client)
	ragAgent := orchestrator.NewRAGAgent(unavailableRetriever{}, client)
	generalAgent := orchestrator.NewGeneralAgent(client)

	modelName := cfg.LLM.OpenAIModel
	if cfg.LLM.Provider == "ollama" {
		modelName = cfg.LLM.OllamaModel
	}
	orch, err := orchestrator.New(client, sqlAgent, ragAgent, generalAgent, modelName, cfg.Conversation.MaxMessages)
	if err != nil {
		return err
	}

	store, err := convstore.Open(cfg.Conversation)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	maxAge := time.Duration(cfg.Conversation.MaxAgeHours) * time.Hour
	interval := time.Duration(cfg.Conversation.CleanupIntervalHours) * time.Hour
	if maxAge > 0 && interval > 0 {
		store.StartReaper(ctx, interval, maxAge)
	}

	srv := httpserv.New(*cfg, orch, store, log, version)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-sigCh:
		log.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	}
	return nil
}

func loadGraph(cfg *config.Config) (*sdata.Graph, error) {
	f, err := os.Open(cfg.AbsolutePath("join_graph_merged.json"))
	if err != nil {
		return nil, apperr.Config("opening join graph artifact", err)
	}
	defer f.Close()
	return sdata.Load(f)
}

func loadOntology(cfg *config.Config, g *sdata.Graph) (*ontology.Registry, error) {
	path := cfg.Domain.RegistryPath
	if !filepath.IsAbs(path) {
		path = cfg.AbsolutePath(filepath.Base(path))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.Config("opening domain ontology artifact", err)
	}
	defer f.Close()
	return ontology.Load(f, g)
}

func loadDisplay(cfg *config.Config, g *sdata.Graph) (*display.Registry, error) {
	f, err := os.Open(cfg.AbsolutePath("display_attributes_registry.json"))
	if err != nil {
		return nil, apperr.Config("opening display attributes artifact", err)
	}
	defer f.Close()
	return display.Load(f, func(table string) ([]string, bool) {
		_, ok := g.GetTable(table)
		return g.ColumnsOf(table), ok
	})
}

// watchArtifacts watches the join graph, display attributes, and (when
// domain extraction is enabled) domain ontology files, reloading all
// three and swapping them into p via Pipeline.Reload whenever any one of
// them changes on disk. A reload failure is logged and the pipeline
// keeps serving on its last-good artifacts rather than going down.
func watchArtifacts(cfg *config.Config, client *llm.Client, p *pipeline.Pipeline, log *zap.Logger) (stop func(), err error) {
	sugar := log.Sugar()

	reload := func() error {
		g, err := loadGraph(cfg)
		if err != nil {
			return err
		}
		disp, err := loadDisplay(cfg, g)
		if err != nil {
			return err
		}
		var extractor *ontology.Extractor
		if cfg.Domain.ExtractionEnabled {
			registry, err := loadOntology(cfg, g)
			if err != nil {
				return err
			}
			extractor = ontology.NewExtractor(client, registry)
		}
		generator := sqlgen.New(client, g, disp)
		p.Reload(g, extractor, generator, disp)
		sugar.Info("pipeline artifacts reloaded")
		return nil
	}

	paths := []string{
		cfg.AbsolutePath("join_graph_merged.json"),
		cfg.AbsolutePath("display_attributes_registry.json"),
	}
	if cfg.Domain.ExtractionEnabled {
		registryPath := cfg.Domain.RegistryPath
		if !filepath.IsAbs(registryPath) {
			registryPath = cfg.AbsolutePath(filepath.Base(registryPath))
		}
		paths = append(paths, registryPath)
	}

	var stops []func()
	for _, path := range paths {
		s, werr := config.WatchArtifact(path, sugar, reload)
		if werr != nil {
			for _, prev := range stops {
				prev()
			}
			return nil, werr
		}
		stops = append(stops, s)
	}

	return func() {
		for _, s := range stops {
			s()
		}
	}, nil
}

func viewsByTable(tables []string) map[string]string {
	m := make(map[string]string, len(tables))
	for _, t := range tables {
		m[t] = "secure_" + t
	}
	return m
}

// pingUpstream does a best-effort startup health check against the
// configured Ollama server; a failure is logged but never fatal, since
// the model may come up after the service does.
func pingUpstream(cfg *config.Config, log *zap.Logger) {
	if cfg.LLM.Provider != "ollama" || cfg.LLM.OllamaBaseURL == "" {
		return
	}
	client := resty.New().SetTimeout(2 * time.Second)
	resp, err := client.R().Get(cfg.LLM.OllamaBaseURL)
	if err != nil || resp.IsError() {
		log.Warn("ollama upstream unreachable at startup",
			zap.String("base_url", cfg.LLM.OllamaBaseURL), zap.Error(err))
	}
}

// unavailableRetriever is the default Retriever until a real vector-store
// backend is wired in; RAG-routed questions fail with a clear, typed
// error instead of silently returning no passages.
type unavailableRetriever struct{}

func (unavailableRetriever) Retrieve(ctx context.Context, question string) ([]string, error) {
	return nil, apperr.UpstreamUnavailable("document retriever", fmt.Errorf("no retriever configured"))
}
