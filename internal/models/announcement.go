package models

import "time"

// NormalizedAnnouncement is the canonical shape every feed row is mapped to
// before deduplication and trigger creation.
type NormalizedAnnouncement struct {
	Source        TriggerSource
	SourceURL     string
	Title         string
	RawContent    string
	CompanySymbol string
	CompanyName   string
	Sector        string
	PublishedAt   *time.Time
	DocumentURLs  []string
}

// ToTrigger builds a pending trigger from the announcement.
func (a NormalizedAnnouncement) ToTrigger(now time.Time) *TriggerEvent {
	t := NewTriggerEvent(a.Source, a.RawContent, now)
	t.SourceURL = a.SourceURL
	t.SourceFeedTitle = a.Title
	t.SourceFeedPublished = a.PublishedAt
	t.CompanySymbol = a.CompanySymbol
	t.CompanyName = a.CompanyName
	t.Sector = a.Sector
	if len(a.DocumentURLs) > 0 {
		t.DocumentURLs = append([]string{}, a.DocumentURLs...)
	}
	return t
}
