package feed

import "time"

// Section titles for the recency buckets closer than a calendar month.
const (
	TitleToday     = "Today"
	TitleThisWeek  = "This week"
	TitleThisMonth = "This month"
)

// Section is a titled run of feed items.
type Section struct {
	Title string   `json:"title"`
	Items []Record `json:"items"`
}

// Group partitions records into recency sections relative to now.
//
// records must already be ordered by timestamp descending; Group does not
// sort. Items sharing a bucket are merged into one section, sections appear in
// order of first occurrence and items keep their input order. Calendar
// arithmetic happens in now's location.
func Group(records []Record, now time.Time) []Section {
	sections := make([]Section, 0)
	index := make(map[string]int)

	for _, r := range records {
		title := bucketTitle(r.Timestamp, now)
		i, ok := index[title]
		if !ok {
			i = len(sections)
			index[title] = i
			sections = append(sections, Section{Title: title})
		}
		sections[i].Items = append(sections[i].Items, r)
	}

	return sections
}

func bucketTitle(ts, now time.Time) string {
	ts = ts.In(now.Location())
	today := startOfDay(now)

	if !ts.Before(today) {
		return TitleToday
	}
	if !ts.Before(today.AddDate(0, 0, -6)) {
		return TitleThisWeek
	}
	if ts.Year() == now.Year() && ts.Month() == now.Month() {
		return TitleThisMonth
	}
	if ts.Year() == now.Year() {
		return ts.Month().String()
	}
	return ts.Format("January 2006")
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
