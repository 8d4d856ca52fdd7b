package text

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Kind selects which partition of the corpus a passage is drawn from.
type Kind string

const (
	KindShort Kind = "short"
	KindLong  Kind = "long"
)

// corpus mirrors the embedded texts.json layout.
type corpus struct {
	Texts     []string `json:"texts"`
	LongTexts []string `json:"longTexts"`
}

// Provider hands out random race passages from a static corpus.
// It is read-only after construction and safe for concurrent use.
type Provider struct {
	mu    sync.Mutex
	rng   *rand.Rand
	short []string
	long  []string
}

// NewProvider parses the embedded corpus JSON and fails fast on any problem.
func NewProvider(jsonData []byte) (*Provider, error) {
	var c corpus
	if err := json.Unmarshal(jsonData, &c); err != nil {
		return nil, fmt.Errorf("failed to parse text corpus: %w", err)
	}
	if len(c.Texts) == 0 {
		return nil, fmt.Errorf("text corpus contains no short texts")
	}
	if len(c.LongTexts) == 0 {
		return nil, fmt.Errorf("text corpus contains no long texts")
	}
	return &Provider{
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		short: c.Texts,
		long:  c.LongTexts,
	}, nil
}

// Random returns a randomly chosen passage of the given kind.
func (p *Provider) Random(kind Kind) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if kind == KindLong {
		return p.long[p.rng.Intn(len(p.long))]
	}
	return p.short[p.rng.Intn(len(p.short))]
}

// Count returns the number of passages in each partition.
func (p *Provider) Count() (short, long int) {
	return len(p.short), len(p.long)
}
