package models

type RefreshSummary struct {
	Total      int            `json:"total"`
	Successful int            `json:"successful"`
	Failed     int            `json:"failed"`
	Errors     map[string]int `json:"errors,omitempty"`
}

func NewRefreshSummary() *RefreshSummary {
	return &RefreshSummary{Errors: make(map[string]int)}
}

func (s *RefreshSummary) AddFailure(reason string) {
	s.Failed++
	s.Errors[reason]++
}

type IngestSummary struct {
	Scanned  int       `json:"scanned"`
	Imported int       `json:"imported"`
	Skipped  int       `json:"skipped"`
	Bookings []Booking `json:"bookings"`
}
