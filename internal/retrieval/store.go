package retrieval

import (
	"cmp"
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

var _ VectorStore = (*SQLiteStore)(nil)

// SQLiteStore keeps bug vectors in the bug_vectors table and answers queries
// with an exact cosine scan. Each row stores its dimension and L2 norm, so a
// scan reads only rows comparable with the query and never recomputes norms.
// Writes are serialized.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore wraps db, which must already carry the bug_vectors schema.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// createdAtLayout is fixed-width so TEXT ordering matches time ordering.
const createdAtLayout = "2006-01-02T15:04:05.000Z07:00"

var errZeroVector = errors.New("embedding has zero length or zero norm")

// Upsert inserts records in one transaction. Ids are content-derived, so a
// row that already exists is left as is.
func (s *SQLiteStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bug_vectors (id, body, has_resolution, embedding, dims, norm, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, r := range records {
		n := norm(r.Embedding)
		if n == 0 {
			return fmt.Errorf("upserting record %s: %w", r.ID, errZeroVector)
		}
		createdAt := cmp.Or(r.CreatedAt, now)
		_, err := stmt.ExecContext(ctx,
			r.ID, r.Body, r.HasResolution,
			encodeFloat32s(r.Embedding), len(r.Embedding), n,
			createdAt.UTC().Format(createdAtLayout))
		if err != nil {
			return fmt.Errorf("upserting record %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// candidate is a scan-phase hit; bodies are loaded only for the winners.
type candidate struct {
	id    string
	score float32
}

// Search returns the topK rows most similar to vector, best first, ties
// broken by id. Rows embedded with a different dimension are skipped.
func (s *SQLiteStore) Search(ctx context.Context, vector []float32, topK int) ([]ScoredRecord, error) {
	if topK <= 0 {
		return nil, nil
	}
	qNorm := norm(vector)
	if qNorm == 0 {
		return nil, nil
	}

	top, err := s.scan(ctx, vector, qNorm, topK)
	if err != nil || len(top) == 0 {
		return nil, err
	}

	results, err := s.load(ctx, top)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(results, func(a, b ScoredRecord) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return results, nil
}

// scan keeps the topK scores in a min-heap while streaming embeddings.
func (s *SQLiteStore) scan(ctx context.Context, vector []float32, qNorm float32, topK int) (map[string]float32, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, embedding, norm FROM bug_vectors WHERE dims = ? AND norm > 0`, len(vector))
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := make(candidateHeap, 0, topK)
	var buf []float32
	for rows.Next() {
		var (
			id    string
			blob  []byte
			rNorm float64
		)
		if err := rows.Scan(&id, &blob, &rNorm); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		if buf, err = decodeFloat32sInto(buf, blob); err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		c := candidate{id: id, score: cosine(vector, buf, qNorm, float32(rNorm))}
		switch {
		case h.Len() < topK:
			heap.Push(&h, c)
		case h[0].worse(c):
			h[0] = c
			heap.Fix(&h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	top := make(map[string]float32, h.Len())
	for _, c := range h {
		top[c.id] = c.score
	}
	return top, nil
}

func (s *SQLiteStore) load(ctx context.Context, top map[string]float32) ([]ScoredRecord, error) {
	args := make([]any, 0, len(top))
	for id := range top {
		args = append(args, id)
	}
	query := `SELECT id, body, has_resolution, created_at FROM bug_vectors
		WHERE id IN (?` + strings.Repeat(",?", len(args)-1) + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-k records: %w", err)
	}
	defer rows.Close()

	results := make([]ScoredRecord, 0, len(top))
	for rows.Next() {
		var (
			r         Record
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.Body, &r.HasResolution, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		if r.CreatedAt, err = time.Parse(createdAtLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", r.ID, err)
		}
		results = append(results, ScoredRecord{Record: r, Score: top[r.ID]})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return results, nil
}

// Count returns the number of stored vectors.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bug_vectors`).Scan(&n)
	return n, err
}

// encodeFloat32s packs v as little-endian float32 bits.
func encodeFloat32s(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(f))
	}
	return out
}

// decodeFloat32sInto unpacks b into buf, growing it only when needed.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob of %d bytes is not a whole number of float32s", len(b))
	}
	buf = slices.Grow(buf[:0], len(b)/4)[:len(b)/4]
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return buf, nil
}

func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine assumes equal lengths and non-zero norms.
func cosine(a, b []float32, aNorm, bNorm float32) float32 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot / (float64(aNorm) * float64(bNorm)))
}

// worse reports whether c ranks below o: a lower score, or an equal score
// with a larger id.
func (c candidate) worse(o candidate) bool {
	if c.score != o.score {
		return c.score < o.score
	}
	return c.id > o.id
}

// candidateHeap is a min-heap in ranking order, so the weakest kept hit is
// at [0].
type candidateHeap []candidate

func (h candidateHeap) Len() int           { return len(h) }
func (h candidateHeap) Less(i, j int) bool { return h[i].worse(h[j]) }
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	c := old[len(old)-1]
	*h = old[:len(old)-1]
	return c
}
