package services

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"research-insight-platform/models"
	"research-insight-platform/utils"
)

const indexSnapshotVersion = 1

// SnapshotFileName is the single versioned artifact holding vectors and
// chunk metadata together, so a reload can never desynchronize them.
const SnapshotFileName = "snapshot-v1.json.gz"

// VectorIndex is a per-job flat cosine index over chunk embeddings.
// One instance per job, built fresh at the researcher stage; never shared
// or merged across jobs.
type VectorIndex struct {
	dim     int
	vectors [][]float32
	chunks  []models.Chunk
}

func NewVectorIndex() *VectorIndex {
	return &VectorIndex{}
}

// Len returns the number of indexed chunks.
func (ix *VectorIndex) Len() int {
	return len(ix.chunks)
}

// Insert adds a chunk and its embedding. The first insertion fixes the
// index dimension.
func (ix *VectorIndex) Insert(chunk models.Chunk, vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("empty embedding for chunk %s/%d", chunk.DocumentID, chunk.Position)
	}
	if ix.dim == 0 {
		ix.dim = len(vector)
	}
	if len(vector) != ix.dim {
		return fmt.Errorf("embedding dimension %d, index dimension %d", len(vector), ix.dim)
	}
	ix.vectors = append(ix.vectors, vector)
	ix.chunks = append(ix.chunks, chunk)
	return nil
}

// Search returns up to k chunks ordered by descending cosine similarity.
// Ties keep insertion order. An empty index yields an empty result.
func (ix *VectorIndex) Search(query []float32, k int) []models.ScoredChunk {
	if k <= 0 || len(ix.chunks) == 0 {
		return []models.ScoredChunk{}
	}

	hits := make([]models.ScoredChunk, len(ix.chunks))
	for i, vec := range ix.vectors {
		hits[i] = models.ScoredChunk{
			Chunk: ix.chunks[i],
			Score: cosineSimilarity(query, vec),
		}
	}

	// Stable sort keeps insertion order across equal scores.
	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].Score > hits[b].Score
	})

	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k]
}

// Chunks returns all indexed chunks in insertion order.
func (ix *VectorIndex) Chunks() []models.Chunk {
	return ix.chunks
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

type indexSnapshot struct {
	Version   int            `json:"version"`
	Dimension int            `json:"dimension"`
	Checksum  string         `json:"checksum"`
	Vectors   [][]float32    `json:"vectors"`
	Chunks    []models.Chunk `json:"chunks"`
}

// SaveSnapshot persists vectors and chunk metadata as one checksummed
// artifact. Written to a temp file and renamed so readers never observe a
// partial snapshot.
func (ix *VectorIndex) SaveSnapshot(path string) error {
	snap := indexSnapshot{
		Version:   indexSnapshotVersion,
		Dimension: ix.dim,
		Checksum:  ix.checksum(),
		Vectors:   ix.vectors,
		Chunks:    ix.chunks,
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal index snapshot: %w", err)
	}

	compressed, err := utils.GzipCompress(data)
	if err != nil {
		return fmt.Errorf("compress index snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadIndexSnapshot reloads a persisted index. Any version, checksum or
// length mismatch surfaces as ErrIndexCorruption: the vectors can no longer
// be trusted to match their citations and the job must re-research.
func LoadIndexSnapshot(path string) (*VectorIndex, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read index snapshot: %w", err)
	}

	data, err := utils.GzipDecompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("decompress index snapshot: %w", utils.ErrIndexCorruption)
	}

	var snap indexSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode index snapshot: %w", utils.ErrIndexCorruption)
	}

	if snap.Version != indexSnapshotVersion {
		return nil, fmt.Errorf("index snapshot version %d, want %d: %w",
			snap.Version, indexSnapshotVersion, utils.ErrIndexCorruption)
	}
	if len(snap.Vectors) != len(snap.Chunks) {
		return nil, fmt.Errorf("index snapshot has %d vectors for %d chunks: %w",
			len(snap.Vectors), len(snap.Chunks), utils.ErrIndexCorruption)
	}

	ix := &VectorIndex{
		dim:     snap.Dimension,
		vectors: snap.Vectors,
		chunks:  snap.Chunks,
	}
	if ix.checksum() != snap.Checksum {
		return nil, fmt.Errorf("index snapshot checksum mismatch: %w", utils.ErrIndexCorruption)
	}
	return ix, nil
}

// checksum binds every vector to its chunk's provenance triple.
func (ix *VectorIndex) checksum() string {
	h := sha256.New()
	for i, chunk := range ix.chunks {
		fmt.Fprintf(h, "%s|%s|%d|%d|", chunk.DocumentID, chunk.Citation, chunk.Position, len(chunk.Text))
		h.Write([]byte(chunk.Text))
		binary.Write(h, binary.LittleEndian, ix.vectors[i])
	}
	return hex.EncodeToString(h.Sum(nil))
}
