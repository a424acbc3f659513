package bookingmail

import (
	"fmt"
	"stay-hunter/pkg/clock"
	"stay-hunter/pkg/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 22:30 UTC is already the next day in the parser's UTC+2 offset.
var testNow = time.Date(2026, 10, 18, 22, 30, 0, 0, time.UTC)

func newTestParser(rules *RuleSet) *Parser {
	return NewParser(rules, clock.NewMockClock(testNow), 2)
}

const confirmationHTML = `<html><body>
<p>Thanks, Anna! Your booking at Hotel Sacher is confirmed.</p>
<table>
  <tr><td>Booking number:</td><td>4711.123.456</td></tr>
  <tr><td>Check-in</td><td>Monday, 2 November 2026 (from 15:00)</td></tr>
  <tr><td>Check-out</td><td>Wednesday, 4 November 2026 (until 11:00)</td></tr>
  <tr><td>Room type:</td><td>Deluxe Double Room</td></tr>
  <tr><td>Total price</td><td>€&nbsp;1.234,50</td></tr>
</table>
<p>Free cancellation until 23:59 on 1 November 2026.</p>
<a href="https://www.booking.com/hotel/at/sacher-wien.de.html?aid=1">Hotel Sacher Wien</a>
</body></html>`

func TestParseHTMLConfirmation(t *testing.T) {
	p := newTestParser(nil)
	loc := p.Location

	b := p.Parse(confirmationHTML, "msg-1")

	assert.Equal(t, "4711.123.456", b.BookingReference)
	assert.Equal(t, "Hotel Sacher Wien", b.HotelName)
	assert.Equal(t, "https://www.booking.com/hotel/at/sacher-wien.de.html?aid=1", b.HotelURL)
	assert.Equal(t, "Deluxe Double Room", b.RoomType)
	assert.Equal(t, time.Date(2026, 11, 2, 15, 0, 0, 0, loc), b.CheckInDate)
	assert.Equal(t, time.Date(2026, 11, 4, 10, 0, 0, 0, loc), b.CheckOutDate)
	require.NotNil(t, b.CancellationDate)
	assert.Equal(t, time.Date(2026, 11, 1, 23, 59, 0, 0, loc), *b.CancellationDate)
	assert.Equal(t, 1234.50, b.OriginalPrice)
	assert.Equal(t, "EUR", b.Currency)

	assert.Equal(t, models.SourceGmail, b.Source)
	assert.True(t, b.ImportedFromMail)
	assert.Equal(t, "msg-1", b.EmailID)
	require.NotNil(t, b.ImportTimestamp)
	assert.True(t, b.ImportTimestamp.Equal(testNow))
	assert.NoError(t, b.Validate())
}

func TestParseAnchor(t *testing.T) {
	b := newTestParser(nil).Parse(`<p>See <a href="https://www.booking.com/hotel/it/example.html">Example Hotel</a></p>`, "m")

	assert.Equal(t, "Example Hotel", b.HotelName)
	assert.Equal(t, "https://www.booking.com/hotel/it/example.html", b.HotelURL)
}

func TestParseExpectingYouFallback(t *testing.T) {
	body := "Great news!\nExample Stay is expecting you on 3 March 2027.\nConfirmation number: 998877665\nTotal: 210,00 EUR"

	b := newTestParser(nil).Parse(body, "m")

	assert.Equal(t, "Example Stay", b.HotelName)
	assert.Equal(t, "998877665", b.BookingReference)
	assert.Equal(t, 210.0, b.OriginalPrice)
	assert.Equal(t, "EUR", b.Currency)
}

func TestParseExpectingYouSkipsGreeting(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"greeting on same line", "Good news Example Stay is expecting you on 3 March 2027.", "Example Stay"},
		{"greeting with comma", "Hi Anna, Example Stay is expecting you.", "Example Stay"},
		{"after sentence", "Thanks for booking. Hotel de la Paix is expecting you!", "Hotel de la Paix"},
		{"first word", "Casa Verde is expecting you", "Casa Verde"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestParser(nil).Parse(tt.body, "m")
			assert.Equal(t, tt.want, b.HotelName)
		})
	}
}

func TestParseUnknownHotel(t *testing.T) {
	b := newTestParser(nil).Parse("nothing useful in here", "m")

	assert.Equal(t, UnknownHotel, b.HotelName)
	assert.Equal(t, fmt.Sprintf("UNKNOWN-%d", testNow.UnixMilli()), b.BookingReference)
	assert.True(t, IsPlaceholderReference(b.BookingReference))
	assert.Equal(t, 0.0, b.OriginalPrice)
	assert.Nil(t, b.CancellationDate)
}

func TestParseDateFallback(t *testing.T) {
	p := newTestParser(nil)

	b := p.Parse("Check-in: 31 Foo 2026\nCheck-out: 2 November 2026", "m")

	// Today in UTC+2, pinned to the check-in hour.
	assert.Equal(t, time.Date(2026, 10, 19, 15, 0, 0, 0, p.Location), b.CheckInDate)
	assert.Equal(t, time.Date(2026, 11, 2, 10, 0, 0, 0, p.Location), b.CheckOutDate)
	_, offset := b.CheckInDate.Zone()
	assert.Equal(t, 2*60*60, offset)
}

func TestParseBareListingURL(t *testing.T) {
	body := "View your booking: https://www.booking.com/hotel/fr/le-petit-ch%C3%A2teau.en-gb.html?aid=304142\nBooking reference: ABC-12345"

	b := newTestParser(nil).Parse(body, "m")

	assert.Equal(t, "Le Petit Château", b.HotelName)
	assert.Equal(t, "https://www.booking.com/hotel/fr/le-petit-ch%C3%A2teau.en-gb.html?aid=304142", b.HotelURL)
	assert.Equal(t, "ABC-12345", b.BookingReference)
	assert.False(t, IsPlaceholderReference(b.BookingReference))
}

func TestParseWithRuleOverrides(t *testing.T) {
	rules, err := CompileRuleSet(RawRuleSet{
		Extract: map[string]string{
			"booking_reference": `regex:Ref#(\w+)`,
			"hotel_name":        `regex:Stay at (.+?)\.`,
			"hotel_url":         `linkContains:example.org/stay`,
			"price":             `regex:Paid (\d+)`,
		},
	})
	require.NoError(t, err)

	body := `<div>Ref#XY99 Stay at Casa Verde. Paid 300 total.
		<a href="https://www.booking.com/hotel/es/other.html">Other Hotel</a>
		<a href="https://example.org/stay/42">Casa Verde listing</a></div>`

	b := newTestParser(rules).Parse(body, "m")

	assert.Equal(t, "XY99", b.BookingReference)
	assert.Equal(t, "Casa Verde", b.HotelName, "a caller name rule wins over the anchor text")
	assert.Equal(t, "https://example.org/stay/42", b.HotelURL)
	assert.Equal(t, 300.0, b.OriginalPrice)
}

func TestParseRecoversFromPanic(t *testing.T) {
	// A regex rule without a compiled pattern cannot be built through
	// ParseRule; it stands in for any unexpected failure.
	rules := &RuleSet{Extract: map[Field]Rule{FieldRoomType: {Kind: RuleRegex}}}

	b := newTestParser(rules).Parse("Room type: Suite", "broken-msg")

	assert.Equal(t, ErrorHotel, b.HotelName)
	assert.Equal(t, fmt.Sprintf("ERROR-%d", testNow.UnixMilli()), b.BookingReference)
	assert.True(t, IsPlaceholderReference(b.BookingReference))
	assert.Equal(t, "broken-msg", b.EmailID)
	assert.True(t, b.ImportedFromMail)
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"1,234.50", 1234.50},
		{"1.234,50", 1234.50},
		{"420,00", 420},
		{"420.99", 420.99},
		{"1,234", 1234},
		{"1.234", 1234},
		{"12.345.678", 12345678},
		{"85.", 85},
		{"", 0},
		{"abc", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParsePrice(tt.in))
		})
	}
}

func TestParseDay(t *testing.T) {
	want := time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{
		"Monday, 2 November 2026",
		"Mon 2 Nov 2026",
		"2 November 2026",
		"November 2, 2026",
		"Nov. 2, 2026",
		"2026-11-02",
		"02/11/2026",
		"2.11.2026",
	} {
		t.Run(in, func(t *testing.T) {
			got, ok := ParseDay(in)
			require.True(t, ok)
			assert.Equal(t, want, got)
		})
	}

	_, ok := ParseDay("31 Foo 2026")
	assert.False(t, ok)
}

func TestNameFromURL(t *testing.T) {
	assert.Equal(t, "Grand Hotel Wien", NameFromURL("https://www.booking.com/hotel/at/grand-hotel-wien.de.html"))
	assert.Equal(t, "Example", NameFromURL("https://www.booking.com/hotel/it/example.html"))
}
