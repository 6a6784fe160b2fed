package aggregate

// Band is the four-level authenticity verdict.
type Band string

const (
	BandAsli         Band = "asli"
	BandSedang       Band = "sedang"
	BandMencurigakan Band = "mencurigakan"
	BandPalsu        Band = "palsu"
)

// BandFor maps a probability to its band. Boundaries are inclusive lower bounds.
func BandFor(probability int) Band {
	switch {
	case probability >= 85:
		return BandAsli
	case probability >= 70:
		return BandSedang
	case probability >= 55:
		return BandMencurigakan
	default:
		return BandPalsu
	}
}

// SimilarityBand bands a mean cosine similarity directly.
func SimilarityBand(avgSimilarity float64) Band {
	switch {
	case avgSimilarity >= 0.85:
		return BandAsli
	case avgSimilarity >= 0.70:
		return BandSedang
	case avgSimilarity >= 0.55:
		return BandMencurigakan
	default:
		return BandPalsu
	}
}

const warningText = "Jangan gunakan obat ini. Hubungi BPOM atau penyedia obat segera."

// Warning returns the warning for probabilities below the suspicious band.
func Warning(probability int) *string {
	if probability >= 55 {
		return nil
	}
	w := warningText
	return &w
}

// Explanation is the penjelasan text for a band.
func Explanation(b Band) string {
	switch b {
	case BandAsli:
		return "Analisis embedding menunjukkan kesamaan sangat tinggi dengan database referensi. Kemasan, barcode, dan fitur visual konsisten dengan standar original. Berdasarkan evaluasi multi-embedding dan forensik visual, kemungkinan besar obat ini ASLI."
	case BandSedang:
		return "Analisis embedding menunjukkan kesamaan dengan database referensi, namun dengan beberapa variasi minor. Rekomendasi: lakukan verifikasi manual dengan penyedia atau BPOM sebelum menggunakan."
	default:
		return "Analisis embedding menunjukkan penyimpangan signifikan dari database referensi. Ditemukan anomali dalam fitur visual dan pola kemasan. Rekomendasi kuat: jangan gunakan obat ini dan laporkan ke BPOM di cekbpom.pom.go.id."
	}
}

// Recommendation is the saran text for a band.
func Recommendation(b Band) string {
	switch b {
	case BandAsli:
		return "Produk ini kemungkinan besar ASLI. Anda dapat menggunakan obat dengan aman. Jika ada keraguan, konsultasikan dengan apoteker atau penyedia."
	case BandSedang:
		return "Hasil menunjukkan kesamaan sedang. Disarankan untuk memverifikasi manual dengan apotek atau menghubungi penyedia produk untuk konfirmasi lebih lanjut."
	default:
		return "JANGAN GUNAKAN obat ini. Kemungkinan PALSU sangat tinggi. Laporkan ke BPOM melalui website cekbpom.pom.go.id atau hubungi apotek tempat pembelian."
	}
}
