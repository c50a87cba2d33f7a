package imagery

import "time"

// DefaultFallbackDays is the look-back window when no date is requested.
const DefaultFallbackDays = 30

// TimeRange is a closed interval in UTC.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// MarshalJSON renders the range as Sentinel Hub expects it.
func (r TimeRange) MarshalJSON() ([]byte, error) {
	return []byte(`{"from":"` + r.From.Format(time.RFC3339) + `","to":"` + r.To.Format(time.RFC3339) + `"}`), nil
}

// BuildTimeRange returns the UTC calendar day of date (00:00:00 to 23:59:59)
// or, when date is nil, [now - fallbackDays, now].
func BuildTimeRange(date *time.Time, fallbackDays int, now time.Time) TimeRange {
	if date != nil {
		d := date.UTC()
		from := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
		return TimeRange{
			From: from,
			To:   from.Add(24*time.Hour - time.Second),
		}
	}

	if fallbackDays <= 0 {
		fallbackDays = DefaultFallbackDays
	}
	to := now.UTC().Truncate(time.Second)
	return TimeRange{
		From: to.AddDate(0, 0, -fallbackDays),
		To:   to,
	}
}
