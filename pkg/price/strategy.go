package price

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ContainerSelectors are known price containers on comparison listings.
var ContainerSelectors = []string{
	".price",
	".room-price",
	".total-price",
	".hotel-price",
	".real-price",
	".price-box",
	".J_price",
	"[data-testid='price']",
	"[data-testid='price-and-discounted-price']",
	"[class*='Price']",
	"[itemprop='price']",
}

// Strategy is one stage of the cascade. Apply returns every amount it found;
// an empty result hands over to the next stage.
type Strategy struct {
	Name  string
	Apply func(doc *goquery.Document) []float64
}

func DefaultStrategies() []Strategy {
	return []Strategy{
		ContainerStrategy(ContainerSelectors, DefaultPatterns),
		PageTextStrategy(DefaultPatterns),
		HeuristicStrategy(DefaultPatterns),
	}
}

// ContainerStrategy scans the known price containers and runs the pattern
// cascade over each container's text.
func ContainerStrategy(selectors []string, patterns []Pattern) Strategy {
	return Strategy{
		Name: "container",
		Apply: func(doc *goquery.Document) []float64 {
			var found []float64
			doc.Find(strings.Join(selectors, ", ")).Each(func(_ int, s *goquery.Selection) {
				found = append(found, MatchText(normalizeSpace(s.Text()), patterns)...)
			})
			return found
		},
	}
}

// PageTextStrategy runs the pattern cascade over the whole body text.
func PageTextStrategy(patterns []Pattern) Strategy {
	return Strategy{
		Name: "page-text",
		Apply: func(doc *goquery.Document) []float64 {
			return MatchText(normalizeSpace(doc.Find("body").Text()), patterns)
		},
	}
}

// HeuristicStrategy looks at elements whose own text, or price-ish attribute,
// mentions "price" and runs the cascade over each of them.
func HeuristicStrategy(patterns []Pattern) Strategy {
	return Strategy{
		Name: "heuristic",
		Apply: func(doc *goquery.Document) []float64 {
			var found []float64
			doc.Find("body *").Each(func(_ int, s *goquery.Selection) {
				own := ownText(s)
				attr := priceAttr(s)
				if !strings.Contains(strings.ToLower(own), "price") && attr == "" {
					return
				}
				text := normalizeSpace(s.Text())
				if attr != "" {
					text = "price " + attr + " " + text
				}
				found = append(found, MatchText(text, patterns)...)
			})
			return found
		},
	}
}

func ownText(s *goquery.Selection) string {
	var b strings.Builder
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			b.WriteString(c.Text())
		}
	})
	return b.String()
}

func priceAttr(s *goquery.Selection) string {
	if v, ok := s.Attr("data-price"); ok {
		return v
	}
	if prop, _ := s.Attr("itemprop"); strings.EqualFold(prop, "price") {
		if v, ok := s.Attr("content"); ok {
			return v
		}
	}
	return ""
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
