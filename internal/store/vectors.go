package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

var ErrNoEmbedder = errors.New("no embedder configured")

// VectorStore keeps documents with their embeddings in sqlite and ranks
// them by cosine similarity. Filters match metadata values exactly, ignoring
// case for strings.
type VectorStore struct {
	DB       *sql.DB
	Embedder embeddings.Embedder
	now      func() time.Time
}

var _ vectorstores.VectorStore = (*VectorStore)(nil)

func NewVectorStore(db *sql.DB, embedder embeddings.Embedder) *VectorStore {
	return &VectorStore{DB: db, Embedder: embedder, now: time.Now}
}

type scoredDoc struct {
	id  string
	doc schema.Document
}

func (v *VectorStore) embedder(opts vectorstores.Options) (embeddings.Embedder, error) {
	if opts.Embedder != nil {
		return opts.Embedder, nil
	}
	if v.Embedder == nil {
		return nil, ErrNoEmbedder
	}
	return v.Embedder, nil
}

func parseOptions(options []vectorstores.Option) vectorstores.Options {
	var opts vectorstores.Options
	for _, o := range options {
		o(&opts)
	}
	return opts
}

func (v *VectorStore) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	emb, err := v.embedder(parseOptions(options))
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.PageContent
	}
	vectors, err := emb.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), len(docs))
	}

	tx, err := v.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ids := make([]string, len(docs))
	created := formatTime(v.now())
	for i, d := range docs {
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metadata: %w", err)
		}
		ids[i] = uuid.NewString()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (id, content, metadata, embedding, created_at) VALUES (?, ?, ?, ?, ?)`,
			ids[i], d.PageContent, string(meta), encodeVector(vectors[i]), created); err != nil {
			return nil, fmt.Errorf("failed to store document: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (v *VectorStore) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	found, err := v.search(ctx, query, numDocuments, parseOptions(options))
	if err != nil {
		return nil, err
	}
	out := make([]schema.Document, len(found))
	for i, f := range found {
		out[i] = f.doc
	}
	return out, nil
}

func (v *VectorStore) search(ctx context.Context, query string, k int, opts vectorstores.Options) ([]scoredDoc, error) {
	emb, err := v.embedder(opts)
	if err != nil {
		return nil, err
	}
	qv, err := emb.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	filters, err := filterMap(opts.Filters)
	if err != nil {
		return nil, err
	}

	rows, err := v.DB.QueryContext(ctx, `SELECT id, content, metadata, embedding FROM documents`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found []scoredDoc
	for rows.Next() {
		var id, content, rawMeta string
		var blob []byte
		if err := rows.Scan(&id, &content, &rawMeta, &blob); err != nil {
			return nil, err
		}
		var meta map[string]any
		if rawMeta != "" && rawMeta != "null" {
			if err := json.Unmarshal([]byte(rawMeta), &meta); err != nil {
				return nil, fmt.Errorf("document %s has invalid metadata: %w", id, err)
			}
		}
		if !matches(meta, filters) {
			continue
		}
		score := cosine(qv, decodeVector(blob))
		if opts.ScoreThreshold > 0 && score < opts.ScoreThreshold {
			continue
		}
		found = append(found, scoredDoc{
			id:  id,
			doc: schema.Document{PageContent: content, Metadata: meta, Score: score},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].doc.Score > found[j].doc.Score })
	if k > 0 && len(found) > k {
		found = found[:k]
	}
	return found, nil
}

// Count returns the number of stored documents.
func (v *VectorStore) Count(ctx context.Context) (int, error) {
	var n int
	err := v.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

func filterMap(f any) (map[string]any, error) {
	switch m := f.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return m, nil
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported filter type %T", f)
}

func matches(meta map[string]any, filters map[string]any) bool {
	for k, want := range filters {
		got, ok := meta[k]
		if !ok || !strings.EqualFold(fmt.Sprint(got), fmt.Sprint(want)) {
			return false
		}
	}
	return true
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
