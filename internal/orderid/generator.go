package orderid

import (
	"fmt"
	"math/rand"
	"regexp"
	"sync"
	"time"
)

// DefaultPrefix is the storefront's order reference prefix.
const DefaultPrefix = "GAF"

const (
	minSuffix = 1000
	maxSuffix = 9999
)

// Pattern matches identifiers produced with DefaultPrefix.
var Pattern = regexp.MustCompile(`^GAF-\d{4}$`)

// Generator produces human-readable order references of the form PREFIX-NNNN.
// It does not consult storage; callers must treat a uniqueness violation on
// insert as a signal to draw again.
type Generator struct {
	prefix  string
	pattern *regexp.Regexp

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewGenerator creates a generator seeded from the clock.
func NewGenerator(prefix string) *Generator {
	return NewGeneratorWithSource(prefix, rand.NewSource(time.Now().UnixNano()))
}

// NewGeneratorWithSource creates a generator with a caller supplied source.
func NewGeneratorWithSource(prefix string, src rand.Source) *Generator {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Generator{
		prefix:  prefix,
		pattern: regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `-[1-9]\d{3}$`),
		rnd:     rand.New(src),
	}
}

// Next draws a suffix uniformly from [1000, 9999].
func (g *Generator) Next() string {
	g.mu.Lock()
	n := minSuffix + g.rnd.Intn(maxSuffix-minSuffix+1)
	g.mu.Unlock()

	return fmt.Sprintf("%s-%d", g.prefix, n)
}

// Prefix returns the configured prefix.
func (g *Generator) Prefix() string {
	return g.prefix
}

// Valid reports whether id has the PREFIX-NNNN shape for this generator.
func (g *Generator) Valid(id string) bool {
	return g.pattern.MatchString(id)
}
