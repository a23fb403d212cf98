package knowledge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"

	"github.com/Chative-whatsapp-agent/server/internal/agent/graph/conversations"
	"github.com/Chative-whatsapp-agent/server/internal/agent/graph/observers"
	"github.com/Chative-whatsapp-agent/server/internal/agent/graph/prompts"
	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
	errx "github.com/Chative-whatsapp-agent/server/internal/core/error"
	"github.com/Chative-whatsapp-agent/server/internal/metrics"
	logx "github.com/Chative-whatsapp-agent/server/pkg/logger"
)

// Graph node keys.
const (
	NodePrepare   = "prepare"
	NodeRetrieve  = "retrieve"
	NodeVars      = "prompt_vars"
	NodeTemplate  = "answer_template"
	NodeChatModel = "answer_model"
	NodeNoContext = "no_context"
)

// kbState is the graph-local state of one knowledge query.
type kbState struct {
	Question string
	History  string
	Docs     []*schema.Document
}

// DocumentInput is a document pushed through the admin API.
type DocumentInput struct {
	ID       string            `json:"id,omitempty"`
	Title    string            `json:"title,omitempty"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// RebuildResult reports what a rebuild indexed.
type RebuildResult struct {
	Files    int           `json:"files"`
	Chunks   int           `json:"chunks"`
	Duration time.Duration `json:"duration"`
}

// Stats describes the index for the admin API.
type Stats struct {
	Status         string     `json:"status"`
	Collection     string     `json:"collection"`
	Documents      int        `json:"document_count"`
	Persistent     bool       `json:"persistent"`
	DataDir        string     `json:"data_dir"`
	IndexDir       string     `json:"storage_dir"`
	CacheEntries   int        `json:"cache_entries"`
	ChatModel      string     `json:"chat_model"`
	EmbeddingModel string     `json:"embedding_model"`
	LastRebuild    *time.Time `json:"last_rebuild,omitempty"`
}

// Service answers questions from the indexed documents and manages the index.
type Service struct {
	cfg      model.KnowledgeConfig
	prompt   model.PromptConfig
	index    *Index
	runnable compose.Runnable[model.KnowledgeQuery, *schema.Message]
	cache    *lru.Cache

	mu          sync.Mutex
	lastRebuild *time.Time
}

// NewService opens the index and compiles the retrieval graph.
func NewService(ctx context.Context, cfg model.KnowledgeConfig, promptCfg model.PromptConfig, embedder embedding.Embedder, chat einomodel.BaseChatModel) (*Service, error) {
	if embedder == nil || chat == nil {
		return nil, fmt.Errorf("knowledge base needs an embedder and a chat model")
	}
	if cfg.Collection == "" {
		cfg.Collection = "knowledge"
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 128
	}

	index, err := OpenIndex(cfg.IndexDir, cfg.Collection, EmbeddingFunc(embedder), cfg.TopK)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create answer cache: %w", err)
	}

	s := &Service{cfg: cfg, prompt: promptCfg, index: index, cache: cache}
	if s.runnable, err = s.buildGraph(ctx, chat); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) buildGraph(ctx context.Context, chat einomodel.BaseChatModel) (compose.Runnable[model.KnowledgeQuery, *schema.Message], error) {
	g := compose.NewGraph[model.KnowledgeQuery, *schema.Message](
		compose.WithGenLocalState(func(ctx context.Context) *kbState {
			return &kbState{}
		}),
	)

	contextTurns := s.cfg.ContextTurns
	cutoff := s.cfg.SimilarityCutoff

	g.AddLambdaNode(NodePrepare,
		compose.InvokableLambda(func(ctx context.Context, q model.KnowledgeQuery) (string, error) {
			return q.Question, nil
		}),
		compose.WithStatePreHandler(func(ctx context.Context, q model.KnowledgeQuery, st *kbState) (model.KnowledgeQuery, error) {
			st.Question = q.Question
			st.History = conversations.FormatContext(q.History, contextTurns)
			return q, nil
		}),
	)

	g.AddRetrieverNode(NodeRetrieve, s.index,
		compose.WithStatePostHandler(func(ctx context.Context, docs []*schema.Document, st *kbState) ([]*schema.Document, error) {
			kept := make([]*schema.Document, 0, len(docs))
			for _, d := range docs {
				if d != nil && d.Score() >= cutoff {
					kept = append(kept, d)
				}
			}
			logx.Debug().Int("retrieved", len(docs)).Int("kept", len(kept)).Float64("cutoff", cutoff).Msg("Similarity filter")
			st.Docs = kept
			return kept, nil
		}),
	)

	g.AddLambdaNode(NodeVars,
		compose.InvokableLambda(func(ctx context.Context, docs []*schema.Document) (map[string]any, error) {
			var vars map[string]any
			err := compose.ProcessState(ctx, func(_ context.Context, st *kbState) error {
				contents := make([]string, 0, len(st.Docs))
				for _, d := range st.Docs {
					contents = append(contents, strings.TrimSpace(d.Content))
				}
				vars = prompts.KnowledgeVars(s.prompt.BusinessName, s.prompt.BusinessType, st.Question, st.History, contents)
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("failed to access state: %w", err)
			}
			return vars, nil
		}),
	)

	g.AddChatTemplateNode(NodeTemplate, prompts.NewKnowledgeTemplate())
	g.AddChatModelNode(NodeChatModel, chat)

	g.AddLambdaNode(NodeNoContext,
		compose.InvokableLambda(func(ctx context.Context, docs []*schema.Document) (*schema.Message, error) {
			return schema.AssistantMessage("", nil), nil
		}),
	)

	edges := [][2]string{
		{compose.START, NodePrepare},
		{NodePrepare, NodeRetrieve},
		{NodeVars, NodeTemplate},
		{NodeTemplate, NodeChatModel},
		{NodeChatModel, compose.END},
		{NodeNoContext, compose.END},
	}
	for _, e := range edges {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			return nil, fmt.Errorf("add edge %s -> %s: %w", e[0], e[1], err)
		}
	}

	contextBranch := compose.NewGraphBranch(
		func(ctx context.Context, docs []*schema.Document) (string, error) {
			if len(docs) == 0 {
				return NodeNoContext, nil
			}
			return NodeVars, nil
		},
		map[string]bool{NodeVars: true, NodeNoContext: true},
	)
	if err := g.AddBranch(NodeRetrieve, contextBranch); err != nil {
		return nil, fmt.Errorf("error adding context branch: %w", err)
	}

	runnable, err := g.Compile(ctx, compose.WithGraphName("knowledge_base"))
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling knowledge graph")
		return nil, fmt.Errorf("error compiling knowledge graph: %w", err)
	}
	return runnable, nil
}

// Answer returns the post-processed answer, or "" when nothing relevant is indexed.
func (s *Service) Answer(ctx context.Context, q model.KnowledgeQuery) (string, error) {
	question := strings.TrimSpace(q.Question)
	if question == "" {
		return "", nil
	}

	key := question + "\x00" + conversations.FormatContext(q.History, s.cfg.ContextTurns)
	if v, ok := s.cache.Get(key); ok {
		metrics.KnowledgeQueries.WithLabelValues("hit").Inc()
		return v.(string), nil
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	msg, err := s.runnable.Invoke(ctx, model.KnowledgeQuery{Question: question, History: q.History},
		compose.WithCallbacks(observers.NewAllCallbacks()))
	metrics.KnowledgeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.KnowledgeQueries.WithLabelValues("error").Inc()
		return "", errx.KnowledgeBase(err)
	}

	var answer string
	if msg != nil {
		answer = PostProcess(msg.Content, s.cfg.MaxAnswerLength)
	}
	if answer == "" {
		metrics.KnowledgeQueries.WithLabelValues("empty").Inc()
		return "", nil
	}

	s.cache.Add(key, answer)
	metrics.KnowledgeQueries.WithLabelValues("miss").Inc()
	return answer, nil
}

// Initialize builds the index from the data directory when it is empty.
func (s *Service) Initialize(ctx context.Context) error {
	if n := s.index.Count(); n > 0 {
		logx.Info().Int("chunks", n).Str("collection", s.cfg.Collection).Msg("Knowledge index loaded")
		return nil
	}
	res, err := s.Rebuild(ctx)
	if err != nil {
		return err
	}
	logx.Info().Int("files", res.Files).Int("chunks", res.Chunks).Msg("Knowledge index built")
	return nil
}

// Rebuild re-indexes the data directory from scratch and clears the answer cache.
func (s *Service) Rebuild(ctx context.Context) (*RebuildResult, error) {
	start := time.Now()
	chunks, files, err := LoadDirectory(s.cfg.DataDir, s.cfg.ChunkSize)
	if err != nil {
		return nil, errx.KnowledgeBase(err)
	}
	if err := s.index.Replace(ctx, chunks); err != nil {
		return nil, errx.KnowledgeBase(err)
	}
	s.cache.Purge()

	now := time.Now()
	s.mu.Lock()
	s.lastRebuild = &now
	s.mu.Unlock()

	return &RebuildResult{Files: files, Chunks: len(chunks), Duration: time.Since(start)}, nil
}

// AddDocument indexes one document and returns the number of chunks stored.
func (s *Service) AddDocument(ctx context.Context, doc DocumentInput) (int, error) {
	content := strings.TrimSpace(doc.Content)
	if content == "" {
		return 0, errx.Validation("document content is required")
	}
	id := doc.ID
	if id == "" {
		id = uuid.NewString()
	}
	meta := map[string]string{}
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	if doc.Title != "" {
		meta["title"] = doc.Title
		content = doc.Title + "\n\n" + content
	}

	chunks := ChunkText(id, content, s.cfg.ChunkSize, meta)
	if err := s.index.Add(ctx, chunks); err != nil {
		return 0, errx.KnowledgeBase(err)
	}
	s.cache.Purge()
	return len(chunks), nil
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	last := s.lastRebuild
	s.mu.Unlock()

	count := s.index.Count()
	status := "initialized"
	if count == 0 {
		status = "empty"
	}
	return Stats{
		Status:         status,
		Collection:     s.cfg.Collection,
		Documents:      count,
		Persistent:     s.index.Persistent(),
		DataDir:        s.cfg.DataDir,
		IndexDir:       s.cfg.IndexDir,
		CacheEntries:   s.cache.Len(),
		ChatModel:      s.cfg.ChatModel,
		EmbeddingModel: s.cfg.EmbeddingModel,
		LastRebuild:    last,
	}
}
