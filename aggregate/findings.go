package aggregate

import (
	"math/rand"
	"sync"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Finding is a synthesized forensic observation. Photo is a role name or "global".
type Finding struct {
	ID         string   `json:"id"`
	Message    string   `json:"message"`
	Severity   Severity `json:"severity"`
	Photo      string   `json:"photo"`
	Confidence int      `json:"confidence"`
}

var findingCatalog = []Finding{
	{ID: "f1", Message: "Karakteristik embedding cocok dengan database referensi", Severity: SeverityLow, Photo: "barcode", Confidence: 88},
	{ID: "f2", Message: "Fitur visual yang terdeteksi menunjukkan variasi minor", Severity: SeverityMedium, Photo: "right", Confidence: 74},
	{ID: "f3", Message: "Pola embedding menunjukkan kesamaan tinggi dengan original", Severity: SeverityLow, Photo: "front", Confidence: 82},
	{ID: "f4", Message: "Anomali dalam vektor fitur terdeteksi", Severity: SeverityHigh, Photo: "global", Confidence: 76},
	{ID: "f5", Message: "Embedding distance tidak sesuai dengan template original", Severity: SeverityHigh, Photo: "barcode", Confidence: 89},
	{ID: "f6", Message: "Fitur geometris menunjukkan penyimpangan kecil", Severity: SeverityLow, Photo: "back", Confidence: 52},
	{ID: "f7", Message: "Konsistensi embedding antar foto berbeda signifikan", Severity: SeverityHigh, Photo: "global", Confidence: 78},
	{ID: "f8", Message: "Vektor fitur kompatibel dengan standar kemasan resmi", Severity: SeverityLow, Photo: "front", Confidence: 85},
}

// minorDeviation is the only finding that may accompany a high probability.
const minorDeviation = 5

// FindingCatalog returns a copy of the candidate findings.
func FindingCatalog() []Finding {
	return append([]Finding(nil), findingCatalog...)
}

// Rand is the random source used for findings selection.
type Rand interface {
	Intn(n int) int
	Float64() float64
}

type lockedRand struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRand returns a goroutine-safe random source seeded with seed.
func NewRand(seed int64) Rand {
	return &lockedRand{rnd: rand.New(rand.NewSource(seed))}
}

func (r *lockedRand) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Intn(n)
}

func (r *lockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Float64()
}

// SelectFindings picks a prefix of the catalog sized by band: 4-6 below 55,
// 1-2 below 70, otherwise the minor deviation finding with 30% chance.
func SelectFindings(probability int, rng Rand) []Finding {
	switch {
	case probability < 55:
		return FindingCatalog()[:rng.Intn(3)+4]
	case probability < 70:
		return FindingCatalog()[:rng.Intn(2)+1]
	default:
		if rng.Float64() < 0.3 {
			return []Finding{findingCatalog[minorDeviation]}
		}
		return []Finding{}
	}
}
