package knowledge

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
	"github.com/philippgille/chromem-go"
)

// Index is a chromem-go collection exposed as an eino retriever.
type Index struct {
	db         *chromem.DB
	name       string
	embed      chromem.EmbeddingFunc
	topK       int
	persistent bool

	mu         sync.RWMutex
	collection *chromem.Collection
}

// OpenIndex opens (or creates) the collection. An empty dir keeps the index in memory.
func OpenIndex(dir, name string, embed chromem.EmbeddingFunc, topK int) (*Index, error) {
	var (
		db  *chromem.DB
		err error
	)
	if dir == "" {
		db = chromem.NewDB()
	} else if db, err = chromem.NewPersistentDB(dir, false); err != nil {
		return nil, fmt.Errorf("open index at %s: %w", dir, err)
	}

	if topK <= 0 {
		topK = 3
	}
	idx := &Index{db: db, name: name, embed: embed, topK: topK, persistent: dir != ""}
	if idx.collection, err = db.GetOrCreateCollection(name, nil, embed); err != nil {
		return nil, fmt.Errorf("open collection %s: %w", name, err)
	}
	return idx, nil
}

// Retrieve returns up to topK documents scored by cosine similarity.
func (i *Index) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	topK := i.topK
	options := retriever.GetCommonOptions(&retriever.Options{TopK: &topK}, opts...)
	if options.TopK != nil && *options.TopK > 0 {
		topK = *options.TopK
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	if n := i.collection.Count(); n < topK {
		topK = n
	}
	if topK == 0 {
		return []*schema.Document{}, nil
	}

	results, err := i.collection.Query(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection %s: %w", i.name, err)
	}

	docs := make([]*schema.Document, 0, len(results))
	for _, r := range results {
		meta := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			meta[k] = v
		}
		doc := &schema.Document{ID: r.ID, Content: r.Content, MetaData: meta}
		docs = append(docs, doc.WithScore(float64(r.Similarity)))
	}
	return docs, nil
}

func (i *Index) GetType() string {
	return "Chromem"
}

// Add embeds and stores chunks.
func (i *Index) Add(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	if err := i.collection.AddDocuments(ctx, toDocuments(chunks), runtime.NumCPU()); err != nil {
		return fmt.Errorf("add documents to %s: %w", i.name, err)
	}
	return nil
}

// Replace drops the collection and indexes chunks into a fresh one.
func (i *Index) Replace(ctx context.Context, chunks []Chunk) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.db.DeleteCollection(i.name); err != nil {
		return fmt.Errorf("delete collection %s: %w", i.name, err)
	}
	collection, err := i.db.GetOrCreateCollection(i.name, nil, i.embed)
	if err != nil {
		return fmt.Errorf("create collection %s: %w", i.name, err)
	}
	i.collection = collection

	if len(chunks) == 0 {
		return nil
	}
	if err := collection.AddDocuments(ctx, toDocuments(chunks), runtime.NumCPU()); err != nil {
		return fmt.Errorf("add documents to %s: %w", i.name, err)
	}
	return nil
}

// Count is the number of stored chunks.
func (i *Index) Count() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.collection.Count()
}

func (i *Index) Persistent() bool {
	return i.persistent
}

func toDocuments(chunks []Chunk) []chromem.Document {
	docs := make([]chromem.Document, 0, len(chunks))
	for _, c := range chunks {
		docs = append(docs, chromem.Document{ID: c.ID, Content: c.Content, Metadata: c.Metadata})
	}
	return docs
}
