package retrieval

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"sitesmith/internal/logging"
	"sitesmith/internal/metrics"
)

// Port is the narrow retrieval contract the pipeline consumes. Both
// operations are best-effort: an unavailable store returns empty results.
type Port interface {
	Search(ctx context.Context, query string, k int) []string
	Insert(ctx context.Context, texts []string, metadatas []map[string]string) []string
}

// DocumentRecord is one embedded text chunk.
type DocumentRecord struct {
	ID        string `gorm:"primaryKey"`
	Text      string
	Metadata  string // JSON object
	Vector    string // JSON float array
	CreatedAt time.Time
}

// TableName keeps the table name stable across gorm naming changes.
func (DocumentRecord) TableName() string { return "documents" }

// Store persists embedded chunks in sqlite and answers cosine-similarity
// queries over them. Writes are append-only.
type Store struct {
	db       *gorm.DB
	embedder Embedder
}

// NewStore migrates the documents table and returns a ready store.
func NewStore(db *gorm.DB, embedder Embedder) (*Store, error) {
	if err := db.AutoMigrate(&DocumentRecord{}); err != nil {
		return nil, err
	}
	return &Store{db: db, embedder: embedder}, nil
}

// Insert embeds and stores the given texts, returning the new ids. Any
// failure is logged and swallowed; the caller gets whatever was stored.
func (s *Store) Insert(ctx context.Context, texts []string, metadatas []map[string]string) []string {
	if s == nil || len(texts) == 0 {
		return nil
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		logging.L().Warn("embedding failed, skipping insert", zap.Error(err))
		return nil
	}

	ids := make([]string, 0, len(texts))
	for i, text := range texts {
		meta := "{}"
		if i < len(metadatas) && metadatas[i] != nil {
			if b, err := json.Marshal(metadatas[i]); err == nil {
				meta = string(b)
			}
		}
		vec, err := json.Marshal(vectors[i])
		if err != nil {
			continue
		}

		rec := DocumentRecord{
			ID:        strings.ReplaceAll(uuid.New().String(), "-", "")[:12],
			Text:      text,
			Metadata:  meta,
			Vector:    string(vec),
			CreatedAt: time.Now(),
		}
		if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
			logging.L().Warn("vector store insert failed", zap.Error(err))
			continue
		}
		ids = append(ids, rec.ID)
	}

	metrics.Get().RetrievalInsertsTotal.Inc()
	return ids
}

// Search returns up to k stored texts ranked by descending cosine
// similarity to the query. Errors and an empty store both yield nil.
func (s *Store) Search(ctx context.Context, query string, k int) []string {
	if s == nil || query == "" || k <= 0 {
		return nil
	}
	metrics.Get().RetrievalSearchesTotal.Inc()

	qvecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil || len(qvecs) != 1 {
		logging.L().Warn("query embedding failed", zap.Error(err))
		return nil
	}
	qvec := qvecs[0]

	var records []DocumentRecord
	if err := s.db.WithContext(ctx).Find(&records).Error; err != nil {
		logging.L().Warn("vector store scan failed", zap.Error(err))
		return nil
	}
	if len(records) == 0 {
		return nil
	}

	type hit struct {
		text  string
		score float64
	}
	hits := make([]hit, 0, len(records))
	for _, rec := range records {
		var vec []float32
		if err := json.Unmarshal([]byte(rec.Vector), &vec); err != nil {
			continue
		}
		hits = append(hits, hit{text: rec.Text, score: cosine(qvec, vec)})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if k > len(hits) {
		k = len(hits)
	}

	results := make([]string, 0, k)
	for _, h := range hits[:k] {
		results = append(results, h.text)
	}
	return results
}

// IndexCodeArtifacts stores generated html/css/js so later generations can
// retrieve prior work for the same project.
func (s *Store) IndexCodeArtifacts(ctx context.Context, code map[string]string, extraMeta map[string]string) {
	texts := make([]string, 0, 3)
	metas := make([]map[string]string, 0, 3)
	for _, lang := range []string{"html", "css", "js"} {
		if code[lang] == "" {
			continue
		}
		meta := map[string]string{"type": "code", "lang": strings.ToUpper(lang)}
		for k, v := range extraMeta {
			meta[k] = v
		}
		texts = append(texts, code[lang])
		metas = append(metas, meta)
	}
	if len(texts) > 0 {
		s.Insert(ctx, texts, metas)
	}
}

// IngestDocument chunks extracted document text and indexes every chunk.
// Returns the stored chunk ids.
func (s *Store) IngestDocument(ctx context.Context, filename, text string) []string {
	chunks := ChunkText(text, 1000, 200)
	if len(chunks) == 0 {
		chunks = []string{"(no text extracted)"}
	}
	metas := make([]map[string]string, len(chunks))
	for i := range chunks {
		metas[i] = map[string]string{"type": "doc", "file": filename, "pos": strconv.Itoa(i)}
	}
	return s.Insert(ctx, chunks, metas)
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// ChunkText splits text into size-char chunks with the given overlap,
// mirroring the ingestion contract consumed by the upload collaborator.
func ChunkText(text string, size, overlap int) []string {
	if text == "" {
		return nil
	}
	if len(text) <= size {
		return []string{text}
	}
	var chunks []string
	start := 0
	for start < len(text) {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			break
		}
		start = end - overlap
	}
	return chunks
}
