package domain

import "time"

// Classification holds the coarse taxonomy values associated with a
// vacancy for downstream filtering.
type Classification struct {
	Level    string `json:"level"`
	Route    string `json:"route"`
	Employer string `json:"employer"`
}

// Vacancy is the locally stored record an import run upserts into.
// It is keyed by the upstream-assigned VacancyRef.
type Vacancy struct {
	ID         uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	VacancyRef string `gorm:"type:text;uniqueIndex" json:"vacancy_ref"`

	// Comparison fields used by the update-worthiness test
	Title             string     `gorm:"type:text" json:"title"`
	ClosingDate       *time.Time `json:"closing_date,omitempty"`
	NumberOfPositions int        `gorm:"default:1" json:"number_of_positions"`
	ShortDescription  string     `gorm:"type:text" json:"short_description"`

	// Remaining mapped scalar fields, keyed by target-field name
	Fields JSONMap `gorm:"type:text" json:"fields"`

	// Structured blocks serialized as JSON (address, wage)
	Address JSONObject `gorm:"type:text" json:"address,omitempty"`
	Wage    JSONObject `gorm:"type:text" json:"wage,omitempty"`

	// Enrichment output; zero when the enrichment collaborator is
	// disabled or failed
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`

	// Classification columns set via SetClassification
	Level    string `gorm:"type:text;index" json:"level,omitempty"`
	Route    string `gorm:"type:text;index" json:"route,omitempty"`
	Employer string `gorm:"type:text;index" json:"employer,omitempty"`

	PublishState string    `gorm:"type:text;default:published" json:"publish_state"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for Vacancy.
func (Vacancy) TableName() string {
	return "vacancies"
}

// NormalizedRecord is the mapped representation of one raw item.
// Transient: owned by the run that produced it.
type NormalizedRecord struct {
	UniqueID string
	// Sanitized scalar values keyed by target-field name
	Fields map[string]string
	// Structured blocks (address, wage) kept as decoded JSON
	Blocks map[string]interface{}
}
