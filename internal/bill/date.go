package bill

import "time"

// ISODate is the wire and storage format for all dates
const ISODate = "2006-01-02"

// dateFormats are the formats accepted when parsing a model-reported date,
// tried in order after ISO 8601
var dateFormats = []string{
	"2006/01/02",
	"01/02/2006",
	"02-01-2006",
	"02/01/2006",
}

// ParseDate resolves a date string to YYYY-MM-DD. Anything that does not
// parse, including an empty string, falls back to now. This is the single
// date entry point for normalization, inserts and updates.
func ParseDate(s string, now time.Time) string {
	if s == "" {
		return now.Format(ISODate)
	}
	if d, err := time.Parse(ISODate, s); err == nil {
		return d.Format(ISODate)
	}
	for _, format := range dateFormats {
		if d, err := time.Parse(format, s); err == nil {
			return d.Format(ISODate)
		}
	}
	return now.Format(ISODate)
}
