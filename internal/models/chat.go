package models

import "strings"

// SuggestionChip is a clickable follow-up suggestion. Activating a chip re-enters the conversation as if
// its text had been typed. Chips are ephemeral and never persisted.
type SuggestionChip struct {
	Label string
	// Topic would be filled if the chip maps to a catalog topic. In that case the chip is activated by
	// selecting the topic, which translates it to the topic's canonical query. Otherwise the label
	// itself is submitted.
	Topic string
}

// Topic is a knowledge-base category known to the widget ahead of time, used for the quick topic chips.
type Topic struct {
	Key   string
	Label string
	// Query is the canonical query phrase sent to the backend when the topic is selected.
	Query string
	Emoji string
}

// Catalog is an ordered set of topics.
type Catalog []Topic

// DefaultCatalog returns the topics offered by the widget out of the box.
func DefaultCatalog() Catalog {
	return Catalog{
		{Key: "admissions", Label: "Admissions", Query: "admissions", Emoji: "🎓"},
		{Key: "library", Label: "Library", Query: "library", Emoji: "📚"},
		{Key: "hod_cs", Label: "CS HoD", Query: "cs hod", Emoji: "👨‍🏫"},
		{Key: "hostel", Label: "Hostel", Query: "hostel", Emoji: "🏠"},
		{Key: "placements", Label: "Placements", Query: "placements", Emoji: "💼"},
	}
}

// Lookup returns the topic with the given key.
func (c Catalog) Lookup(key string) (Topic, bool) {
	for _, t := range c {
		if t.Key == key {
			return t, true
		}
	}
	return Topic{}, false
}

// ByLabel returns the topic whose label matches label, ignoring case and surrounding whitespace.
func (c Catalog) ByLabel(label string) (Topic, bool) {
	label = strings.TrimSpace(label)
	for _, t := range c {
		if strings.EqualFold(t.Label, label) {
			return t, true
		}
	}
	return Topic{}, false
}

// Chip returns the chip for a suggestion label. Labels naming a catalog topic are bound to it.
func (c Catalog) Chip(label string) SuggestionChip {
	label = strings.TrimSpace(label)
	if t, ok := c.ByLabel(label); ok {
		return SuggestionChip{Label: t.Label, Topic: t.Key}
	}
	return SuggestionChip{Label: label}
}

// Chips returns one chip per catalog topic, in catalog order.
func (c Catalog) Chips() []SuggestionChip {
	chips := make([]SuggestionChip, len(c))
	for i, t := range c {
		chips[i] = SuggestionChip{Label: t.Label, Topic: t.Key}
	}
	return chips
}
