package bookingmail

import (
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/cockroachdb/errors"
)

var ErrInvalidRule = errors.New("invalid extraction rule")

type Field string

const (
	FieldBookingReference Field = "booking_reference"
	FieldHotelName        Field = "hotel_name"
	FieldHotelURL         Field = "hotel_url"
	FieldRoomType         Field = "room_type"
	FieldCheckIn          Field = "check_in"
	FieldCheckOut         Field = "check_out"
	FieldCancellation     Field = "cancellation_date"
	FieldPrice            Field = "price"
	FieldCurrency         Field = "currency"
)

var knownFields = map[Field]bool{
	FieldBookingReference: true,
	FieldHotelName:        true,
	FieldHotelURL:         true,
	FieldRoomType:         true,
	FieldCheckIn:          true,
	FieldCheckOut:         true,
	FieldCancellation:     true,
	FieldPrice:            true,
	FieldCurrency:         true,
}

type RuleKind int

const (
	RuleRegex RuleKind = iota + 1
	RuleLinkContains
)

// Rule is one compiled extraction rule. Regex rules yield their first
// capture group (or the whole match); link rules yield the text and href of
// the first anchor whose href contains Pattern.
type Rule struct {
	Kind    RuleKind
	Pattern string
	re      *regexp.Regexp
}

// ParseRule reads the "regex:<pattern>" / "linkContains:<substring>" form.
func ParseRule(s string) (Rule, error) {
	kind, arg, ok := strings.Cut(s, ":")
	if !ok || arg == "" {
		return Rule{}, errors.Wrapf(ErrInvalidRule, "%q: expected regex:<pattern> or linkContains:<substring>", s)
	}
	switch kind {
	case "regex":
		return RegexRule(arg)
	case "linkContains":
		return Rule{Kind: RuleLinkContains, Pattern: arg}, nil
	default:
		return Rule{}, errors.Wrapf(ErrInvalidRule, "%q: unknown rule kind %q", s, kind)
	}
}

func RegexRule(pattern string) (Rule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, errors.Wrapf(ErrInvalidRule, "regex %q: %v", pattern, err)
	}
	return Rule{Kind: RuleRegex, Pattern: pattern, re: re}, nil
}

func mustRegex(pattern string) Rule {
	r, err := RegexRule(pattern)
	if err != nil {
		panic(err)
	}
	return r
}

func (r Rule) String() string {
	if r.Kind == RuleLinkContains {
		return "linkContains:" + r.Pattern
	}
	return "regex:" + r.Pattern
}

// Hit is what a rule found. Href is only set by link rules.
type Hit struct {
	Text string
	Href string
}

// Find applies the rule to the plain text, or to doc for link rules. doc is
// nil for plain-text bodies.
func (r Rule) Find(text string, doc *goquery.Document) (Hit, bool) {
	switch r.Kind {
	case RuleRegex:
		m := r.re.FindStringSubmatch(text)
		if m == nil {
			return Hit{}, false
		}
		v := m[0]
		if len(m) > 1 {
			v = m[1]
		}
		v = normalizeSpace(v)
		return Hit{Text: v}, v != ""
	case RuleLinkContains:
		return findAnchor(doc, func(href string) bool { return strings.Contains(href, r.Pattern) })
	}
	return Hit{}, false
}

func findAnchor(doc *goquery.Document, match func(href string) bool) (Hit, bool) {
	if doc == nil {
		return Hit{}, false
	}
	var hit Hit
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		text := normalizeSpace(a.Text())
		if !match(href) || text == "" || strings.HasPrefix(text, "http") {
			return true
		}
		hit = Hit{Text: text, Href: strings.TrimSpace(href)}
		return false
	})
	return hit, hit.Href != ""
}

// MatchRule narrows which messages are considered confirmations.
type MatchRule struct {
	From            string `json:"from,omitempty"`
	SubjectContains string `json:"subjectContains,omitempty"`
}

// RawRuleSet is the request shape: field name to rule string.
type RawRuleSet struct {
	Match   MatchRule         `json:"match"`
	Extract map[string]string `json:"extract,omitempty"`
}

type RuleSet struct {
	Match   MatchRule
	Extract map[Field]Rule
}

// CompileRuleSet validates and compiles every rule up front, so a bad rule
// rejects the request instead of failing per message.
func CompileRuleSet(raw RawRuleSet) (*RuleSet, error) {
	rs := &RuleSet{Match: raw.Match, Extract: make(map[Field]Rule, len(raw.Extract))}

	names := make([]string, 0, len(raw.Extract))
	for name := range raw.Extract {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		f := Field(name)
		if !knownFields[f] {
			return nil, errors.Wrapf(ErrInvalidRule, "unknown field %q", name)
		}
		r, err := ParseRule(raw.Extract[name])
		if err != nil {
			return nil, errors.Wrapf(err, "field %s", name)
		}
		rs.Extract[f] = r
	}
	return rs, nil
}

// Rules returns the rules to try for f: the caller's rule alone when one is
// set, the defaults otherwise.
func (rs *RuleSet) Rules(f Field) []Rule {
	if rs != nil {
		if r, ok := rs.Extract[f]; ok {
			return []Rule{r}
		}
	}
	return defaultRules[f]
}

func (rs *RuleSet) Overrides(f Field) bool {
	if rs == nil {
		return false
	}
	_, ok := rs.Extract[f]
	return ok
}
