package fallen

import "strings"

const (
	// UnknownName is used when a listing entry has no parseable name.
	UnknownName = "Unknown"
	// UnknownDate is used when a listing entry has no date of death.
	UnknownDate = "Unknown Date"
)

// Identity is the stable ledger key for a record.
type Identity string

// BriefRecord is one entry on a search-results page.
type BriefRecord struct {
	Name            string `json:"name"`
	DateOfDeathText string `json:"date_of_death"`
	ProfileLink     string `json:"profile_link"`
	ImageURL        string `json:"image_url,omitempty"`
}

// HasImage reports whether the listing carried a portrait.
func (b BriefRecord) HasImage() bool {
	return strings.TrimSpace(b.ImageURL) != ""
}

// DetailRecord is a BriefRecord plus best-effort enrichment fields.
// An empty string means the field could not be extracted.
type DetailRecord struct {
	BriefRecord

	Rank                string `json:"rank,omitempty"`
	Branch              string `json:"branch,omitempty"`
	Unit                string `json:"unit,omitempty"`
	Operation           string `json:"operation,omitempty"`
	Age                 string `json:"age,omitempty"`
	Hometown            string `json:"hometown,omitempty"`
	DeathLocation       string `json:"death_location,omitempty"`
	Circumstances       string `json:"circumstances,omitempty"`
	HighQualityImageURL string `json:"high_quality_image_url,omitempty"`
	FormattedDate       string `json:"formatted_date,omitempty"`
}

// NewDetail returns a DetailRecord with no enrichment fields set.
func NewDetail(b BriefRecord) DetailRecord {
	return DetailRecord{BriefRecord: b}
}

// BestImageURL prefers the profile's high-resolution image over the listing thumbnail.
func (d DetailRecord) BestImageURL() string {
	if d.HighQualityImageURL != "" {
		return d.HighQualityImageURL
	}
	return d.ImageURL
}

// DisplayDate prefers the normalized date when enrichment produced one.
func (d DetailRecord) DisplayDate() string {
	if d.FormattedDate != "" {
		return d.FormattedDate
	}
	return d.DateOfDeathText
}

// Enriched reports whether any optional field was extracted.
func (d DetailRecord) Enriched() bool {
	return d.Rank != "" || d.Branch != "" || d.Unit != "" || d.Operation != "" ||
		d.Age != "" || d.Hometown != "" || d.DeathLocation != "" ||
		d.Circumstances != "" || d.HighQualityImageURL != ""
}

// PublishableMedia is a normalized image and its caption, ready for upload.
type PublishableMedia struct {
	Record      DetailRecord
	Image       []byte
	ContentType string
	Caption     string
}
