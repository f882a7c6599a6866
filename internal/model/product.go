package model

import "time"

// Status represents the verification lifecycle state of a product record.
type Status string

const (
	StatusIncomplete Status = "incomplete"
	StatusPartial    Status = "partial"
	StatusComplete   Status = "complete"
	StatusVerified   Status = "verified"

	// Terminal states reachable only through explicit curation, never by
	// the scoring engine.
	StatusRejected Status = "rejected"
	StatusMerged   Status = "merged"
)

// IsTerminal reports whether the status can no longer change automatically.
func (s Status) IsTerminal() bool {
	return s == StatusRejected || s == StatusMerged
}

// Field keys used for verification tracking and conflict logging.
const (
	FieldName         = "name"
	FieldBrand        = "brand"
	FieldGTIN         = "gtin"
	FieldProductType  = "product_type"
	FieldABV          = "abv"
	FieldDescription  = "description"
	FieldCountry      = "country"
	FieldRegion       = "region"
	FieldVintage      = "vintage"
	FieldNoseText     = "nose_text"
	FieldAromaTags    = "aroma_tags"
	FieldPalateText   = "palate_text"
	FieldInitialTaste = "initial_taste"
	FieldMidPalate    = "mid_palate"
	FieldMouthfeel    = "mouthfeel"
	FieldPalateTags   = "palate_tags"
	FieldFinishText   = "finish_text"
	FieldFinishTags   = "finish_tags"
	FieldFinishLength = "finish_length"
	FieldBestPrice    = "best_price"
	FieldImages       = "images"
	FieldRatings      = "ratings"
	FieldAwards       = "awards"
)

// TastingProfile holds nose, palate, and finish data for a product.
// Each sub-field is either free text or a tag set; both may be present.
type TastingProfile struct {
	NoseText     string   `json:"nose_text,omitempty"`
	AromaTags    []string `json:"aroma_tags,omitempty"`
	PalateText   string   `json:"palate_text,omitempty"`
	InitialTaste string   `json:"initial_taste,omitempty"`
	MidPalate    string   `json:"mid_palate,omitempty"`
	Mouthfeel    string   `json:"mouthfeel,omitempty"`
	PalateTags   []string `json:"palate_tags,omitempty"`
	FinishText   string   `json:"finish_text,omitempty"`
	FinishTags   []string `json:"finish_tags,omitempty"`
	FinishLength *float64 `json:"finish_length,omitempty"`
}

// HasPalate reports whether the profile meets the minimum palate bar:
// at least two palate tags, or palate text, or initial-taste text.
func (t TastingProfile) HasPalate() bool {
	return len(t.PalateTags) >= 2 || t.PalateText != "" || t.InitialTaste != ""
}

// Price is a best-known retail price observed at a source.
type Price struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	URL      string  `json:"url,omitempty"`
}

// Rating is a review score observed at a source.
type Rating struct {
	Source string  `json:"source"`
	Score  float64 `json:"score"`
	Scale  float64 `json:"scale,omitempty"`
	URL    string  `json:"url,omitempty"`
}

// Award is a competition result for a product.
type Award struct {
	Competition string `json:"competition"`
	Medal       string `json:"medal,omitempty"`
	Year        int    `json:"year,omitempty"`
}

// ProductCandidate is a normalized extraction result for a single URL.
// Candidates are ephemeral: produced once per extraction attempt and
// consumed by the matching engine.
type ProductCandidate struct {
	Name        string `json:"name"`
	Brand       string `json:"brand,omitempty"`
	GTIN        string `json:"gtin,omitempty"`
	ProductType string `json:"product_type,omitempty"`

	ABV         *float64 `json:"abv,omitempty"`
	Description string   `json:"description,omitempty"`
	Country     string   `json:"country,omitempty"`
	Region      string   `json:"region,omitempty"`
	Vintage     *int     `json:"vintage,omitempty"`

	Tasting TastingProfile `json:"tasting"`

	BestPrice *Price   `json:"best_price,omitempty"`
	Images    []string `json:"images,omitempty"`
	Ratings   []Rating `json:"ratings,omitempty"`
	Awards    []Award  `json:"awards,omitempty"`

	SourceURL string `json:"source_url"`
}

// ConflictLog records a disagreement between a merged value and an incoming
// candidate value. Entries are append-only; the existing record value is
// never overwritten by a conflicting source.
type ConflictLog struct {
	ID            string    `json:"id"`
	Fingerprint   string    `json:"fingerprint"`
	Field         string    `json:"field"`
	ExistingValue string    `json:"existing_value"`
	IncomingValue string    `json:"incoming_value"`
	SourceURL     string    `json:"source_url"`
	ObservedAt    time.Time `json:"observed_at"`
}

// ProductRecord is the durable, deduplicated entity representing one
// real-world product across all sources.
type ProductRecord struct {
	Fingerprint string `json:"fingerprint"`
	GTIN        string `json:"gtin,omitempty"`

	Name        string `json:"name"`
	Brand       string `json:"brand,omitempty"`
	ProductType string `json:"product_type,omitempty"`

	ABV         *float64 `json:"abv,omitempty"`
	Description string   `json:"description,omitempty"`
	Country     string   `json:"country,omitempty"`
	Region      string   `json:"region,omitempty"`
	Vintage     *int     `json:"vintage,omitempty"`

	Tasting TastingProfile `json:"tasting"`

	BestPrice *Price   `json:"best_price,omitempty"`
	Images    []string `json:"images,omitempty"`
	Ratings   []Rating `json:"ratings,omitempty"`
	Awards    []Award  `json:"awards,omitempty"`

	// VerifiedFields holds fields independently confirmed by at least two
	// sources.
	VerifiedFields map[string]bool `json:"verified_fields,omitempty"`

	// Sources lists the distinct source URLs successfully merged into this
	// record. SourceCount is kept equal to len(Sources).
	Sources     []string `json:"sources,omitempty"`
	SourceCount int      `json:"source_count"`

	CompletenessScore int           `json:"completeness_score"`
	Status            Status        `json:"status"`
	Conflicts         []ConflictLog `json:"conflicts,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasSource reports whether the given source URL was already merged.
func (r *ProductRecord) HasSource(url string) bool {
	for _, s := range r.Sources {
		if s == url {
			return true
		}
	}
	return false
}

// AddSource records a distinct source URL and bumps SourceCount.
// Adding an already-known URL is a no-op.
func (r *ProductRecord) AddSource(url string) {
	if url == "" || r.HasSource(url) {
		return
	}
	r.Sources = append(r.Sources, url)
	r.SourceCount = len(r.Sources)
}

// MarkVerified adds a field to the verified set. Idempotent.
func (r *ProductRecord) MarkVerified(field string) {
	if r.VerifiedFields == nil {
		r.VerifiedFields = make(map[string]bool)
	}
	r.VerifiedFields[field] = true
}

// IsVerified reports whether a field has been confirmed by multiple sources.
func (r *ProductRecord) IsVerified(field string) bool {
	return r.VerifiedFields[field]
}

// NewRecord seeds a fresh record from a candidate. The caller supplies the
// fingerprint; the first source is registered and the status starts at
// incomplete until the scorer runs.
func NewRecord(fingerprint string, c ProductCandidate) *ProductRecord {
	now := time.Now().UTC()
	r := &ProductRecord{
		Fingerprint:    fingerprint,
		GTIN:           c.GTIN,
		Name:           c.Name,
		Brand:          c.Brand,
		ProductType:    c.ProductType,
		ABV:            c.ABV,
		Description:    c.Description,
		Country:        c.Country,
		Region:         c.Region,
		Vintage:        c.Vintage,
		Tasting:        c.Tasting,
		BestPrice:      c.BestPrice,
		Images:         c.Images,
		Ratings:        c.Ratings,
		Awards:         c.Awards,
		VerifiedFields: make(map[string]bool),
		Status:         StatusIncomplete,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.AddSource(c.SourceURL)
	return r
}
