package models

// DefaultColor is used when no mapping exists for a code.
const DefaultColor = "#000000"

// MappingEntry is one row of tracking_code_mappings.
type MappingEntry struct {
	ID          uint64
	Carrier     string
	Code        string
	DisplayName string
	Color       string
}
