// Package types contains read-model types shared by the domain and the API.
package types

// Analytics is the per-event aggregate served from the staleness-aware cache.
type Analytics struct {
	EventID       string  `json:"event_id"`
	Registrations int     `json:"registrations"`
	Tickets       int     `json:"tickets"`
	Revenue       int64   `json:"revenue"`
	Conversion    float64 `json:"conversion"`
}

// FallbackAnalytics is served when the analytics source is unavailable.
// It reports zeros rather than an error so dashboards keep rendering.
func FallbackAnalytics(eventID string) Analytics {
	return Analytics{EventID: eventID}
}

// ConversionRate returns tickets per registration, or 0 with no registrations.
func ConversionRate(registrations, tickets int) float64 {
	if registrations <= 0 {
		return 0
	}
	return float64(tickets) / float64(registrations)
}
