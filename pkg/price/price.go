// Package price recovers a representative room price from an arbitrary
// listing page.
//
// Extraction is an ordered cascade of strategies. The first strategy that
// finds any amount wins, and the lowest amount it found is reported. That is
// an approximation: the cheapest number on a listing page is usually the room
// rate, but it can also be a fee or a tax line.
package price

import (
	"bytes"
	"math"
	"math/rand"
	"sort"

	"github.com/PuerkitoBio/goquery"
	"github.com/cockroachdb/errors"
)

var ErrNoPrices = errors.New("no prices found")

const StrategySynthetic = "synthetic"

type Result struct {
	Price      float64
	Strategy   string
	Candidates []float64
}

type Extractor struct {
	Strategies []Strategy
	// Synthesize makes Extract invent a plausible price instead of failing,
	// so downstream flows can be exercised outside production.
	Synthesize bool
	Rand       func() float64
}

func NewExtractor(synthesize bool) *Extractor {
	return &Extractor{
		Strategies: DefaultStrategies(),
		Synthesize: synthesize,
		Rand:       rand.Float64,
	}
}

func (e *Extractor) Extract(html []byte) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return Result{}, errors.Wrap(err, "parse html")
	}
	doc.Find("script, style, noscript, template").Remove()

	for _, s := range e.Strategies {
		found := s.Apply(doc)
		if len(found) == 0 {
			continue
		}
		sort.Float64s(found)
		return Result{Price: found[0], Strategy: s.Name, Candidates: found}, nil
	}

	if e.Synthesize {
		p := math.Round((80+e.Rand()*220)*100) / 100
		return Result{Price: p, Strategy: StrategySynthetic}, nil
	}
	return Result{}, ErrNoPrices
}
