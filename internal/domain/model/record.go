package model

// Column names of the output file, in file order. The header is the
// compatibility contract for downstream CRM import.
const (
	ColFirstName = "First name"
	ColLastName  = "Last name"
	ColProfileID = "Linkedin profile ID"
	ColHeadline  = "Linkedin headline"
	ColSummary   = "Linkedin summary"
	ColIndustry  = "Industry"
	ColLocation  = "Location"
	ColLanguages = "Languages"
	ColBirthday  = "Birthday"
	ColEmail     = "Email address"
	ColPhone     = "Phone number"
)

// Columns returns the fixed, ordered column set.
func Columns() []string {
	return []string{
		ColFirstName, ColLastName, ColProfileID, ColHeadline, ColSummary,
		ColIndustry, ColLocation, ColLanguages, ColBirthday, ColEmail, ColPhone,
	}
}

// Record is a normalized profile row keyed by column name.
type Record map[string]string

// NewRecord returns a record with every column present and empty.
func NewRecord() Record {
	r := make(Record, len(Columns()))
	for _, c := range Columns() {
		r[c] = ""
	}
	return r
}

// Values returns the record's values in column order. Missing columns are
// returned as empty strings.
func (r Record) Values() []string {
	cols := Columns()
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = r[c]
	}
	return out
}

// ProfileID returns the record's profile identifier column.
func (r Record) ProfileID() ProfileID {
	return ProfileID(r[ColProfileID])
}
