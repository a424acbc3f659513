package bookingmail

import "regexp"

// dateExpr matches the date spellings seen in confirmation mails, with an
// optional leading weekday.
const dateExpr = `(?:(?:mon|tue|wed|thu|fri|sat|sun)[a-z]*\.?,?\s+)?` +
	`(?:\d{1,2}\s+[a-z]+\.?,?\s+\d{4}` +
	`|[a-z]+\.?\s+\d{1,2},?\s+\d{4}` +
	`|\d{4}-\d{2}-\d{2}` +
	`|\d{1,2}[./]\d{1,2}[./]\d{4})`

const currencyExpr = `(?:€|EUR|US\$|\$|USD|£|GBP|CHF)`

var defaultRules = map[Field][]Rule{
	FieldBookingReference: {
		mustRegex(`(?i)(?:booking|confirmation|reservation)\s+(?:number|no\.?|reference|code|id)\s*(?:[:#]\s*|is\s+)?(\d[\d.\-]{4,}\d)`),
		mustRegex(`(?i)(?:booking|confirmation|reservation)\s+(?:number|no\.?|reference|code|id)\s*[:#]\s*([A-Z0-9][A-Z0-9\-]{4,})`),
	},
	FieldHotelName: {
		mustRegex(`(?im)^\s*(?:hotel|property)(?:\s+name)?\s*:\s*(.+?)\s*$`),
		mustRegex(`(?i)your (?:booking|reservation|stay) (?:at|in) ([^\n.!,]{2,80}?) (?:is|has been) confirmed`),
	},
	FieldHotelURL: {
		mustRegex(`https?://[^\s"'<>]*/hotel/(?:[a-z]{2}/)?[A-Za-z0-9%_.\-]+?\.html?(?:\?[^\s"'<>]*)?`),
	},
	FieldRoomType: {
		mustRegex(`(?im)^\s*(?:room\s+type\s*:?|room\s*:|accommodation\s*:)\s*(.+?)\s*$`),
		mustRegex(`(?i)\b((?:single|double|twin|triple|family|deluxe|superior|standard|classic|king|queen|junior)[a-z \-]{0,40}?(?:room|suite|studio|apartment))\b`),
	},
	FieldCheckIn: {
		mustRegex(`(?i)check[\s-]?in(?:\s+date)?\s*:?\s*(?:from\s+)?(` + dateExpr + `)`),
		mustRegex(`(?i)arrival(?:\s+date)?\s*:?\s*(` + dateExpr + `)`),
	},
	FieldCheckOut: {
		mustRegex(`(?i)check[\s-]?out(?:\s+date)?\s*:?\s*(?:until\s+)?(` + dateExpr + `)`),
		mustRegex(`(?i)departure(?:\s+date)?\s*:?\s*(` + dateExpr + `)`),
	},
	FieldCancellation: {
		mustRegex(`(?i)(?:free cancellation|cancel(?:lation)?(?: for free)?)\s+(?:until|before)\s+(?:\d{1,2}:\d{2}\s*(?:am|pm)?\s+(?:on\s+)?)?(` + dateExpr + `)`),
		mustRegex(`(?i)cancellation deadline\s*:?\s*(` + dateExpr + `)`),
	},
	FieldPrice: {
		mustRegex(`(?i)total price\s*:?\s*` + currencyExpr + `?\s*(\d[\d.,]*)`),
		mustRegex(`(?i)(?:price|total|amount paid|amount)\s*:?\s*` + currencyExpr + `?\s*(\d[\d.,]*)`),
		mustRegex(`(?:€|£|\$)\s*(\d[\d.,]*)`),
	},
	FieldCurrency: {
		mustRegex(`(?i)(?:total price|price|total|amount)[^\n]{0,40}?(` + currencyExpr + `)`),
		mustRegex(currencyExpr),
	},
}

// expectingYou is the last resort before the placeholder hotel name. The
// name is a run of up to six capitalised words, joined by the usual
// lowercase particles, directly before the phrase. A lowercase word or
// punctuation ends the run, so greetings like "Good news" are left out.
var expectingYou = regexp.MustCompile(`(?:^|\s)(` + nameWord + `(?:[ \t]+(?:` + nameWord + `|` + nameParticle + `)){0,5})[ \t]+(?i:is expecting you)`)

const (
	nameWord     = `[\p{Lu}\p{N}][\p{L}\p{N}'&\-]*`
	nameParticle = `della|delle|del|des|de|di|du|la|le|les|am|an|auf|der|den|im|zum|zur|von|of|the|and|&`
)

// listingPath marks an anchor that points at a hotel listing.
const listingPath = "/hotel/"

var currencyCodes = map[string]string{
	"€":   "EUR",
	"$":   "USD",
	"US$": "USD",
	"£":   "GBP",
}
