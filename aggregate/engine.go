package aggregate

import (
	"sort"
	"time"

	"github.com/medguard-ai/medguard/vectordb"
)

// DetectedDrug is the reference drug a scan most resembles.
type DetectedDrug struct {
	ID      int     `json:"id"`
	Name    string  `json:"name"`
	Variant string  `json:"variant"`
	Score   float64 `json:"score"`
}

// UnknownDrug is reported when no vector index matches are available.
var UnknownDrug = DetectedDrug{ID: 999, Name: "Unknown Medicine", Variant: "Generic"}

// Result is a finalized scan verdict.
type Result struct {
	ScanID          string                      `json:"scanId"`
	Authenticity    Band                        `json:"authenticity"`
	Probability     int                         `json:"probability"`
	DetectedDrug    DetectedDrug                `json:"detected_drug"`
	Penjelasan      string                      `json:"penjelasan"`
	Temuan          []Finding                   `json:"temuan"`
	PerPhotoScores  map[string]float64          `json:"per_photo_scores"`
	PerPhotoMatches map[string][]vectordb.Match `json:"per_photo_matches"`
	UploadedPhotos  []string                    `json:"uploadedPhotos"`
	Saran           string                      `json:"saran"`
	Peringatan      *string                     `json:"peringatan"`
	AvgScore        float64                     `json:"avgScore"`
	Policy          PolicyKind                  `json:"policy"`
	ComputedAt      time.Time                   `json:"computed_at"`
}

// Clone returns a deep copy of r. Nil collections stay nil so the JSON shape
// is unchanged.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	c := *r
	if r.Temuan != nil {
		c.Temuan = append([]Finding{}, r.Temuan...)
	}
	if r.PerPhotoScores != nil {
		c.PerPhotoScores = make(map[string]float64, len(r.PerPhotoScores))
		for k, v := range r.PerPhotoScores {
			c.PerPhotoScores[k] = v
		}
	}
	if r.PerPhotoMatches != nil {
		c.PerPhotoMatches = make(map[string][]vectordb.Match, len(r.PerPhotoMatches))
		for k, v := range r.PerPhotoMatches {
			c.PerPhotoMatches[k] = append([]vectordb.Match{}, v...)
		}
	}
	if r.UploadedPhotos != nil {
		c.UploadedPhotos = append([]string{}, r.UploadedPhotos...)
	}
	if r.Peringatan != nil {
		w := *r.Peringatan
		c.Peringatan = &w
	}
	return &c
}

// Input is the stored state a result is computed from.
type Input struct {
	ScanID         string
	Scores         map[string]float64
	Matches        map[string][]vectordb.Match
	UploadedPhotos []string
}

// Engine computes results. Probability and band depend only on the
// scores and policy; findings draw from the engine's random source.
type Engine struct {
	rng Rand
}

// NewEngine creates an engine. A nil rng is replaced by a time-seeded source.
func NewEngine(rng Rand) *Engine {
	if rng == nil {
		rng = NewRand(time.Now().UnixNano())
	}
	return &Engine{rng: rng}
}

// Aggregate computes the verdict for in under policy p.
func (e *Engine) Aggregate(p Policy, in Input) *Result {
	avg := Mean(in.Scores)
	probability := p.Probability(avg)
	band := BandFor(probability)

	scores := make(map[string]float64, len(in.Scores))
	for k, v := range in.Scores {
		scores[k] = v
	}
	matches := make(map[string][]vectordb.Match, len(in.Matches))
	for k, v := range in.Matches {
		matches[k] = append([]vectordb.Match(nil), v...)
	}
	uploaded := append([]string{}, in.UploadedPhotos...)

	return &Result{
		ScanID:          in.ScanID,
		Authenticity:    band,
		Probability:     probability,
		DetectedDrug:    detectDrug(in.Matches),
		Penjelasan:      Explanation(band),
		Temuan:          SelectFindings(probability, e.rng),
		PerPhotoScores:  scores,
		PerPhotoMatches: matches,
		UploadedPhotos:  uploaded,
		Saran:           Recommendation(band),
		Peringatan:      Warning(probability),
		AvgScore:        avg,
		Policy:          p.Kind,
		ComputedAt:      time.Now().UTC(),
	}
}

func detectDrug(matches map[string][]vectordb.Match) DetectedDrug {
	roles := make([]string, 0, len(matches))
	for role := range matches {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	sides := make([][]vectordb.Match, 0, len(roles))
	for _, role := range roles {
		sides = append(sides, matches[role])
	}

	best, ok := vectordb.BestMatch(sides, vectordb.VotesPerSide)
	if !ok {
		return UnknownDrug
	}
	return DetectedDrug{ID: best.ID, Name: best.Name, Variant: best.Variant, Score: best.Similarity}
}
