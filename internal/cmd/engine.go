package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"github.com/caseflow-io/caseflow/internal/agentclient"
	"github.com/caseflow-io/caseflow/internal/agents"
	"github.com/caseflow-io/caseflow/internal/config"
	"github.com/caseflow-io/caseflow/internal/executor"
	"github.com/caseflow-io/caseflow/internal/llm"
	"github.com/caseflow-io/caseflow/internal/memory"
	"github.com/caseflow-io/caseflow/internal/obslog"
	"github.com/caseflow-io/caseflow/internal/orchestrator"
	"github.com/caseflow-io/caseflow/internal/plan"
	"github.com/caseflow-io/caseflow/internal/policy"
	"github.com/caseflow-io/caseflow/internal/retrieval"
	"github.com/caseflow-io/caseflow/internal/secrets"
	"github.com/caseflow-io/caseflow/internal/ticket"
)

// Default models per provider. Overridable later; the classification and
// synthesis prompts are model-agnostic JSON-mode prompts.
const (
	defaultOpenAIModel = "gpt-4o-mini"
	defaultOllamaModel = "llama3.2"
	embeddingModel     = "nomic-embed-text"

	openAIKeySecret = "openai_api_key"
)

// engine is the fully wired orchestration stack shared by serve and run.
type engine struct {
	cfg     *config.Config
	routing *policy.Routing
	orch    *orchestrator.Orchestrator
	memory  *memory.Store
	cases   *ticket.Store
	execLog *obslog.Log
	vault   *secrets.Vault
	index   *retrieval.LocalIndex // nil when an external retrieval service is configured
}

func (e *engine) close() {
	if e.vault != nil {
		_ = e.vault.Close()
	}
	if e.execLog != nil {
		_ = e.execLog.Close()
	}
	if e.cases != nil {
		_ = e.cases.Close()
	}
	if e.memory != nil {
		_ = e.memory.Close()
	}
}

// buildEngine assembles stores, provider, retriever, agents, and the
// orchestrator from operator configuration.
func buildEngine(ctx context.Context, cfg *config.Config) (*engine, error) {
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	routing, err := loadRouting(cfg)
	if err != nil {
		return nil, err
	}

	e := &engine{cfg: cfg, routing: routing}
	ok := false
	defer func() {
		if !ok {
			e.close()
		}
	}()

	if e.memory, err = memory.NewStore(cfg.MemoryDBPath()); err != nil {
		return nil, fmt.Errorf("opening memory store: %w", err)
	}
	if e.cases, err = ticket.NewStore(cfg.CasesDBPath()); err != nil {
		return nil, fmt.Errorf("opening case store: %w", err)
	}
	if e.execLog, err = obslog.NewLog(cfg.ExecutionsDBPath()); err != nil {
		return nil, fmt.Errorf("opening execution log: %w", err)
	}
	if e.vault, err = secrets.NewVault(cfg.SecretsDBPath(), cfg.SecretsKey); err != nil {
		return nil, fmt.Errorf("opening secrets vault: %w", err)
	}
	if cfg.UsingDefaultSecretsKey() {
		log.Warn().Msg("secrets_key_defaulted")
	}

	provider, model := resolveProvider(ctx, cfg, e.vault)

	retriever, err := buildRetriever(cfg, e, provider)
	if err != nil {
		return nil, err
	}

	registry := agentclient.NewRegistry()
	agents.RegisterAll(registry, agents.Deps{
		Provider:   provider,
		Model:      model,
		Memory:     e.memory,
		Retriever:  retriever,
		ExecLog:    e.execLog,
		WorkingTTL: cfg.WorkingTTL,
	})

	var client agentclient.Client = registry
	if len(cfg.AgentEndpoints) > 0 {
		// Remote agents get a circuit breaker so a dead worker degrades
		// stages quickly instead of eating every stage deadline.
		client = agentclient.NewBreaker(
			agentclient.NewRouted(cfg.AgentEndpoints, registry), 0, 0, 0)
	}

	admission, err := policy.NewAdmission(ctx, routing)
	if err != nil {
		return nil, fmt.Errorf("compiling admission rule: %w", err)
	}

	e.orch = orchestrator.New(
		routing,
		admission,
		plan.NewPlanner(routing, cfg.RetrievalTopK),
		executor.New(client, routing.AgentTimeout(cfg.AgentTimeout)),
		e.cases,
		orchestrator.WithSessionMemory(e.memory),
	)

	ok = true
	return e, nil
}

func loadRouting(cfg *config.Config) (*policy.Routing, error) {
	if _, err := os.Stat(cfg.RoutingPolicy); errors.Is(err, os.ErrNotExist) {
		log.Info().Str("path", cfg.RoutingPolicy).Msg("routing_policy_defaulted")
		return policy.DefaultRouting(), nil
	}
	routing, err := policy.Load(cfg.RoutingPolicy)
	if err != nil {
		return nil, fmt.Errorf("loading routing policy: %w", err)
	}
	return routing, nil
}

// resolveProvider picks the model backend: OpenAI when a key is on hand
// (vault first, then environment), the local Ollama endpoint otherwise.
// A nil provider is valid; the model-backed agents then run heuristics.
func resolveProvider(ctx context.Context, cfg *config.Config, vault *secrets.Vault) (llm.Provider, string) {
	if key := lookupAPIKey(ctx, vault); key != "" {
		if cfg.OpenAIBaseURL != "" {
			return llm.NewOpenAIProviderWithBaseURL(key, cfg.OpenAIBaseURL), defaultOpenAIModel
		}
		return llm.NewOpenAIProvider(key), defaultOpenAIModel
	}
	if cfg.OllamaBaseURL != "" {
		return llm.NewOllamaProvider(cfg.OllamaBaseURL), defaultOllamaModel
	}
	log.Warn().Msg("no_model_provider_configured")
	return nil, ""
}

func lookupAPIKey(ctx context.Context, vault *secrets.Vault) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if s, err := vault.Get(ctx, openAIKeySecret); err == nil {
		return string(s.Value)
	}
	return os.Getenv("OPENAI_API_KEY")
}

// buildRetriever returns the knowledge-base retriever: the external HTTP
// service when configured, otherwise the embedded chromem index persisted
// under the data directory. Both are wrapped in the LRU result cache.
func buildRetriever(cfg *config.Config, e *engine, provider llm.Provider) (retrieval.Retriever, error) {
	var inner retrieval.Retriever
	if cfg.RetrievalURL != "" {
		inner = retrieval.NewHTTPRetriever(cfg.RetrievalURL)
	} else {
		index, err := retrieval.NewLocalIndex(cfg.KnowledgeDBPath(), "knowledge", embeddingFunc(cfg, provider))
		if err != nil {
			return nil, fmt.Errorf("opening knowledge index: %w", err)
		}
		e.index = index
		inner = index
	}

	cached, err := retrieval.NewCached(inner, 256, 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("wrapping retriever cache: %w", err)
	}
	return cached, nil
}

// embeddingFunc matches the embedding backend to the chat provider so a
// fully local install never calls out.
func embeddingFunc(cfg *config.Config, provider llm.Provider) chromem.EmbeddingFunc {
	if provider != nil && provider.Name() == "openai" {
		return chromem.NewEmbeddingFuncDefault()
	}
	base := cfg.OllamaBaseURL
	if base == "" {
		base = config.DefaultOllamaURL
	}
	return chromem.NewEmbeddingFuncOllama(embeddingModel, base+"/api")
}
