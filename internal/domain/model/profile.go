// Package model contains domain models passed between layers.
package model

import (
	"strings"
)

// ProfileID is the bare identifier of a profile, e.g. "jdoe".
type ProfileID string

// String returns the identifier as a plain string.
func (id ProfileID) String() string { return string(id) }

// ParseProfileID extracts a bare identifier from a profile URL or id.
// The query string and a trailing slash are stripped and the final path
// segment is kept.
func ParseProfileID(raw string) (ProfileID, error) {
	s := strings.TrimSpace(raw)
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimRight(s, "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	if s == "" {
		return "", ErrInvalidProfile
	}
	return ProfileID(s), nil
}

// Field is an optional value from a loosely structured API response.
// Present distinguishes an absent key from an explicit null or empty value.
type Field struct {
	Value   any
	Present bool
}

// Set wraps a value as a present field.
func Set(v any) Field { return Field{Value: v, Present: true} }

// RawProfile holds the profile keys the pipeline knows about. Any key may be
// missing from an upstream response.
type RawProfile struct {
	FirstName      Field // firstName
	LastName       Field // lastName
	ProfileID      Field // profile_id
	Headline       Field // headline
	Summary        Field // summary
	IndustryName   Field // industryName
	GeoCountryName Field // geoCountryName
	Languages      Field // languages: [{name}]
}

// RawContactInfo holds the contact-info keys the pipeline knows about.
type RawContactInfo struct {
	Birthdate    Field // birthdate
	EmailAddress Field // email_address
	PhoneNumbers Field // phone_numbers: [{number, type}]
}

// ProfileFromMap picks the known profile keys out of a decoded JSON object.
func ProfileFromMap(m map[string]any) RawProfile {
	return RawProfile{
		FirstName:      lookup(m, "firstName"),
		LastName:       lookup(m, "lastName"),
		ProfileID:      lookup(m, "profile_id"),
		Headline:       lookup(m, "headline"),
		Summary:        lookup(m, "summary"),
		IndustryName:   lookup(m, "industryName"),
		GeoCountryName: lookup(m, "geoCountryName"),
		Languages:      lookup(m, "languages"),
	}
}

// ContactInfoFromMap picks the known contact-info keys out of a decoded JSON object.
func ContactInfoFromMap(m map[string]any) RawContactInfo {
	return RawContactInfo{
		Birthdate:    lookup(m, "birthdate"),
		EmailAddress: lookup(m, "email_address"),
		PhoneNumbers: lookup(m, "phone_numbers"),
	}
}

func lookup(m map[string]any, key string) Field {
	v, ok := m[key]
	return Field{Value: v, Present: ok}
}
