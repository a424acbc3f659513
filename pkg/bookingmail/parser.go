// Package bookingmail turns a booking confirmation email into a booking.
// Parsing is total: every field degrades to a documented default on its own,
// and an unexpected failure still yields a placeholder record.
package bookingmail

import (
	"fmt"
	"log"
	"net/url"
	"path"
	"regexp"
	"stay-hunter/pkg/clock"
	"stay-hunter/pkg/models"
	"stay-hunter/pkg/price"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

const (
	UnknownHotel = "Unknown Hotel"
	ErrorHotel   = "Error Processing Booking"

	checkInHour  = 15
	checkOutHour = 10

	unknownRefPrefix = "UNKNOWN-"
	errorRefPrefix   = "ERROR-"
)

var (
	htmlMarkup    = regexp.MustCompile(`(?i)<(?:html|body|div|table|td|a|p|br|span)\b`)
	weekdayPrefix = regexp.MustCompile(`(?i)^(?:mon|tue|wed|thu|fri|sat|sun)[a-z]*\.?,?\s+`)
	localeSuffix  = regexp.MustCompile(`\.[a-z]{2}(?:-[a-z]{2})?$`)
	mangledEntity = regexp.MustCompile(`(?i)=3D|=20|&amp;|amp;`)
	dateLayouts   = []string{
		"2 January 2006",
		"2 Jan 2006",
		"January 2, 2006",
		"January 2 2006",
		"Jan 2, 2006",
		"Jan 2 2006",
		"2006-01-02",
		"2/1/2006",
		"2.1.2006",
	}
)

type Parser struct {
	Rules    *RuleSet
	Clock    clock.Clock
	Location *time.Location
}

// NewParser returns a parser that pins times in a fixed UTC offset. A nil
// rule set means the defaults for every field.
func NewParser(rules *RuleSet, clk clock.Clock, utcOffsetHours int) *Parser {
	return &Parser{Rules: rules, Clock: clk, Location: FixedOffset(utcOffsetHours)}
}

func FixedOffset(hours int) *time.Location {
	return time.FixedZone(fmt.Sprintf("UTC%+03d:00", hours), hours*60*60)
}

// Parse extracts a booking from body. It never fails; see the package doc.
func (p *Parser) Parse(body, messageID string) (b models.Booking) {
	now := p.Clock.Now().In(p.Location)

	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[INGEST] parser panic on message %s: %v", messageID, rec)
			b = p.errorBooking(messageID, now)
		}
	}()

	var doc *goquery.Document
	text := body
	if htmlMarkup.MatchString(body) {
		var err error
		doc, err = goquery.NewDocumentFromReader(strings.NewReader(body))
		if err == nil {
			text = HTMLToText(doc)
		} else {
			log.Printf("[INGEST] message %s: unreadable html, using raw body: %v", messageID, err)
		}
	}

	b = models.Booking{
		Source:           models.SourceGmail,
		ImportedFromMail: true,
		ImportTimestamp:  &now,
		EmailID:          messageID,
	}

	b.HotelName, b.HotelURL = p.hotel(text, doc)

	b.BookingReference = p.field(FieldBookingReference, text, doc)
	if b.BookingReference == "" {
		b.BookingReference = fmt.Sprintf("%s%d", unknownRefPrefix, now.UnixMilli())
	}

	b.RoomType = p.field(FieldRoomType, text, doc)
	b.CheckInDate = p.date(p.field(FieldCheckIn, text, doc), checkInHour, 0, now)
	b.CheckOutDate = p.date(p.field(FieldCheckOut, text, doc), checkOutHour, 0, now)
	if raw := p.field(FieldCancellation, text, doc); raw != "" {
		d := p.date(raw, 23, 59, now)
		b.CancellationDate = &d
	}

	b.OriginalPrice = ParsePrice(p.field(FieldPrice, text, doc))
	b.Currency = currencyCode(p.field(FieldCurrency, text, doc))

	return b
}

// hotel resolves name and listing URL. A caller rule for the name wins;
// otherwise a listing anchor, then a bare listing URL, then the name
// regexes, then the "is expecting you" line.
func (p *Parser) hotel(text string, doc *goquery.Document) (name, hotelURL string) {
	if p.Rules.Overrides(FieldHotelName) {
		name = p.field(FieldHotelName, text, doc)
	}

	if p.Rules.Overrides(FieldHotelURL) {
		for _, r := range p.Rules.Rules(FieldHotelURL) {
			if hit, ok := r.Find(text, doc); ok {
				hotelURL = firstNonEmpty(hit.Href, hit.Text)
				if name == "" && hit.Href != "" {
					name = hit.Text
				}
			}
		}
	} else if hit, ok := findAnchor(doc, func(href string) bool { return strings.Contains(href, listingPath) }); ok {
		hotelURL = hit.Href
		if name == "" {
			name = hit.Text
		}
	}

	if hotelURL == "" {
		for _, r := range defaultRules[FieldHotelURL] {
			if hit, ok := r.Find(text, nil); ok {
				hotelURL = hit.Text
				if name == "" {
					name = NameFromURL(hotelURL)
				}
				break
			}
		}
	}

	if name == "" && !p.Rules.Overrides(FieldHotelName) {
		name = p.field(FieldHotelName, text, doc)
	}
	if name == "" {
		if m := expectingYou.FindStringSubmatch(text); m != nil {
			name = normalizeSpace(m[1])
		}
	}
	if name == "" {
		name = UnknownHotel
	}
	return name, hotelURL
}

func (p *Parser) field(f Field, text string, doc *goquery.Document) string {
	for _, r := range p.Rules.Rules(f) {
		if hit, ok := r.Find(text, doc); ok {
			return hit.Text
		}
	}
	return ""
}

// date parses raw as a calendar day and pins it to hour:minute in the
// parser's offset. Missing or unreadable input falls back to today.
func (p *Parser) date(raw string, hour, minute int, now time.Time) time.Time {
	y, m, d := now.Date()
	if raw != "" {
		if t, ok := ParseDay(raw); ok {
			y, m, d = t.Date()
		} else {
			log.Printf("[INGEST] unreadable date %q, using today", raw)
		}
	}
	return time.Date(y, m, d, hour, minute, 0, 0, p.Location)
}

// IsPlaceholderReference reports whether ref was made up by the parser
// rather than read from the message. Placeholders change on every parse.
func IsPlaceholderReference(ref string) bool {
	return strings.HasPrefix(ref, unknownRefPrefix) || strings.HasPrefix(ref, errorRefPrefix)
}

func (p *Parser) errorBooking(messageID string, now time.Time) models.Booking {
	return models.Booking{
		BookingReference: fmt.Sprintf("%s%d", errorRefPrefix, now.UnixMilli()),
		HotelName:        ErrorHotel,
		Currency:         "EUR",
		CheckInDate:      time.Date(now.Year(), now.Month(), now.Day(), checkInHour, 0, 0, 0, p.Location),
		CheckOutDate:     time.Date(now.Year(), now.Month(), now.Day(), checkOutHour, 0, 0, 0, p.Location),
		Source:           models.SourceGmail,
		ImportedFromMail: true,
		ImportTimestamp:  &now,
		EmailID:          messageID,
	}
}

// ParseDay reads the date spellings confirmation mails use. Slash and dot
// dates are day first.
func ParseDay(raw string) (time.Time, bool) {
	s := normalizeSpace(raw)
	s = weekdayPrefix.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, ".,", ",")
	if !strings.ContainsAny(s, "/-") && !isNumericDate(s) {
		s = strings.ReplaceAll(s, ".", "")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func isNumericDate(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) && r != '.' }) == -1
}

// ParsePrice normalizes "1.234,50", "1,234.50", "420,00" and "420" style
// amounts. Anything unreadable is 0.
func ParsePrice(raw string) float64 {
	s := price.NormalizeAmount(raw)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func currencyCode(raw string) string {
	if raw == "" {
		return "EUR"
	}
	if code, ok := currencyCodes[raw]; ok {
		return code
	}
	return strings.ToUpper(raw)
}

// NameFromURL derives a display name from a listing URL's slug, for example
// ".../hotel/at/grand-hotel-wien.de.html" becomes "Grand Hotel Wien".
func NameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	slug := path.Base(u.Path)
	slug = strings.TrimSuffix(strings.TrimSuffix(slug, ".html"), ".htm")
	slug = localeSuffix.ReplaceAllString(slug, "")
	if unescaped, err := url.PathUnescape(slug); err == nil {
		slug = unescaped
	}
	slug = mangledEntity.ReplaceAllString(slug, "")

	words := strings.FieldsFunc(slug, func(r rune) bool { return r == '-' || r == '_' || r == '+' })
	for i, w := range words {
		rs := []rune(strings.ToLower(w))
		rs[0] = unicode.ToUpper(rs[0])
		words[i] = string(rs)
	}
	return strings.Join(words, " ")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
