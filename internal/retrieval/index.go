// Package retrieval proposes candidate image pairs worth matching. It keeps
// an approximate nearest-neighbour index over whole-image descriptors so a
// collection of N images does not require all N*(N-1)/2 pair matchings.
package retrieval

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	"gridmatch/internal/features"
)

// maxNeighbors is the HNSW M parameter.
const maxNeighbors = 16

// Candidate is a proposed image pair with the descriptor-space distance that
// ranked it. Lower distance means more likely to share content.
type Candidate struct {
	ID0      string
	ID1      string
	Distance float64
}

// Index is a thread-safe approximate nearest-neighbour index over image
// descriptors, keyed by image id.
type Index struct {
	graph *hnsw.Graph[string]
	mu    sync.RWMutex
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = maxNeighbors
	g.Ml = 1.0 / float64(maxNeighbors)
	g.Distance = hnsw.CosineDistance
	return g
}

// Add inserts one image's descriptor into the index, replacing any previous
// entry under the same id.
func (idx *Index) Add(f *features.ImageFeatures) error {
	if err := f.Validate(); err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.graph == nil {
		idx.graph = newGraph()
	}
	idx.graph.Add(hnsw.MakeNode(f.ID, f.Descriptor()))
	return nil
}

// Build replaces the index contents with the given images.
func (idx *Index) Build(imgs []*features.ImageFeatures) error {
	g := newGraph()
	for _, f := range imgs {
		if err := f.Validate(); err != nil {
			return err
		}
		g.Add(hnsw.MakeNode(f.ID, f.Descriptor()))
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.graph = g
	return nil
}

// Count returns the number of indexed images.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.graph == nil {
		return 0
	}
	return idx.graph.Len()
}

// Search finds the k nearest indexed images to the query descriptor.
func (idx *Index) Search(query []float32, k int) ([]string, []float64, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.graph == nil {
		return nil, nil, errors.New("index not initialized")
	}

	neighbors := idx.graph.Search(query, k)

	ids := make([]string, len(neighbors))
	distances := make([]float64, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.Key
		if len(n.Value) > 0 {
			distances[i] = float64(hnsw.CosineDistance(query, n.Value))
		}
	}
	return ids, distances, nil
}

// ProposePairs queries the index with every image and returns the deduplicated
// candidate pairs among its k nearest neighbours, ordered by ascending
// distance. Self-pairs are dropped.
func (idx *Index) ProposePairs(imgs []*features.ImageFeatures, k int) ([]Candidate, error) {
	seen := make(map[[2]string]bool)
	var out []Candidate

	for _, f := range imgs {
		ids, distances, err := idx.Search(f.Descriptor(), k+1)
		if err != nil {
			return nil, fmt.Errorf("could not search for %s: %w", f.ID, err)
		}
		for i, other := range ids {
			if other == f.ID {
				continue
			}
			key := [2]string{f.ID, other}
			if key[0] > key[1] {
				key[0], key[1] = key[1], key[0]
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, Candidate{ID0: key[0], ID1: key[1], Distance: distances[i]})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		if out[i].ID0 != out[j].ID0 {
			return out[i].ID0 < out[j].ID0
		}
		return out[i].ID1 < out[j].ID1
	})
	return out, nil
}

// Save persists the index graph to disk.
func (idx *Index) Save(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.graph == nil {
		_ = os.Remove(path)
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	defer f.Close()

	if err := idx.graph.Export(f); err != nil {
		return fmt.Errorf("exporting retrieval graph: %w", err)
	}
	return nil
}

// Load reads an index previously written by Save. The loaded graph becomes
// the live one, so Add, Count and Search behave the same as on a built index.
// A missing file leaves the index empty so it can be rebuilt from features.
func (idx *Index) Load(path string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	saved, err := hnsw.LoadSavedGraph[string](path)
	if err != nil {
		return fmt.Errorf("failed to load retrieval index: %w", err)
	}
	idx.graph = saved.Graph
	return nil
}
