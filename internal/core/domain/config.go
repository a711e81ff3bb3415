package domain

// ResolverConfig holds entity-resolution thresholds. It is passed by value
// at construction so tests can vary thresholds per case.
type ResolverConfig struct {
	// FuzzyNameThreshold is the minimum trigram similarity for tier 3
	FuzzyNameThreshold float64

	// NameAddressThreshold is the minimum weighted score for tier 4
	NameAddressThreshold float64

	// NameWeight and AddressWeight combine tier 4 similarities (sum to 1)
	NameWeight    float64
	AddressWeight float64

	// CandidateFloor is the minimum name similarity for a tier 4 candidate
	CandidateFloor float64

	// CandidateLimit bounds how many candidates the similarity index returns
	CandidateLimit int

	// DefaultKind is used when a query does not name a party kind
	DefaultKind PartyKind
}

// DefaultResolverConfig returns the standard thresholds (0.90 / 0.80, 70/30).
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		FuzzyNameThreshold:   0.90,
		NameAddressThreshold: 0.80,
		NameWeight:           0.7,
		AddressWeight:        0.3,
		CandidateFloor:       0.3,
		CandidateLimit:       10,
		DefaultKind:          PartyKindOrg,
	}
}

// ContentConfig constrains what the content store accepts.
type ContentConfig struct {
	MaxBytes          int64
	AllowedMediaTypes []string
}

// DefaultContentConfig accepts documents and images up to 20 MiB.
func DefaultContentConfig() ContentConfig {
	return ContentConfig{
		MaxBytes: 20 << 20,
		AllowedMediaTypes: []string{
			"application/pdf",
			"image/png",
			"image/jpeg",
			"image/tiff",
			"image/webp",
			"image/heic",
		},
	}
}

// Allows reports whether mediaType is on the allow-list.
func (c ContentConfig) Allows(mediaType string) bool {
	for _, t := range c.AllowedMediaTypes {
		if t == mediaType {
			return true
		}
	}
	return false
}
