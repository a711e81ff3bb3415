package domain

import (
	"fmt"
	"strings"
	"time"
)

// PartyKind classifies a counterparty
type PartyKind string

const (
	PartyKindPerson PartyKind = "person"
	PartyKindOrg    PartyKind = "org"
)

// IsValid returns true if the kind is recognized
func (k PartyKind) IsValid() bool {
	return k == PartyKindPerson || k == PartyKindOrg
}

// Party is a counterparty (organization or person). Identity fields never
// change after creation; only empty attributes and metadata are enriched.
// Merging two parties is an explicit administrative action.
type Party struct {
	ID                string            `json:"id"`
	Kind              PartyKind         `json:"kind"`
	Name              string            `json:"name"`
	NormalizedName    string            `json:"normalized_name"`
	TaxID             string            `json:"tax_id,omitempty"`
	NormalizedTaxID   string            `json:"-"`
	Address           string            `json:"address,omitempty"`
	NormalizedAddress string            `json:"-"`
	Email             string            `json:"email,omitempty"`
	Metadata          map[string]string `json:"metadata"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// PartyQuery carries extracted counterparty attributes to the resolver.
// Only Name is required; empty optional fields skip their tier.
type PartyQuery struct {
	Name    string    `json:"name"`
	TaxID   string    `json:"tax_id,omitempty"`
	Address string    `json:"address,omitempty"`
	Email   string    `json:"email,omitempty"`
	Kind    PartyKind `json:"kind,omitempty"`
}

// Validate checks the required fields and the kind.
func (q PartyQuery) Validate() error {
	if strings.TrimSpace(q.Name) == "" || NormalizeName(q.Name) == "" {
		return MissingField("name")
	}
	if q.Kind != "" && !q.Kind.IsValid() {
		return fmt.Errorf("%w: unknown party kind %q", ErrInvalidInput, q.Kind)
	}
	return nil
}

// WithDefaultKind returns q with Kind set when it is empty.
func (q PartyQuery) WithDefaultKind(kind PartyKind) PartyQuery {
	if q.Kind == "" {
		q.Kind = kind
	}
	return q
}

// NewParty builds an unsaved party from a query.
func NewParty(q PartyQuery, now time.Time) *Party {
	p := &Party{
		ID:             GenerateID(),
		Kind:           q.Kind,
		Name:           strings.TrimSpace(q.Name),
		NormalizedName: NormalizeName(q.Name),
		Metadata:       make(map[string]string),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if p.Kind == "" {
		p.Kind = PartyKindOrg
	}
	p.setTaxID(q.TaxID)
	p.setAddress(q.Address)
	p.Email = NormalizeEmail(q.Email)
	return p
}

func (p *Party) setTaxID(taxID string) {
	p.TaxID = strings.TrimSpace(taxID)
	p.NormalizedTaxID = NormalizeTaxID(taxID)
}

func (p *Party) setAddress(address string) {
	p.Address = strings.TrimSpace(address)
	p.NormalizedAddress = NormalizeAddress(address)
}

// Enrich fills attributes the party does not have yet from q. Existing
// values are never overwritten. Returns true if anything changed.
func (p *Party) Enrich(q PartyQuery, now time.Time) bool {
	changed := false
	if p.NormalizedTaxID == "" && NormalizeTaxID(q.TaxID) != "" {
		p.setTaxID(q.TaxID)
		changed = true
	}
	if p.NormalizedAddress == "" && NormalizeAddress(q.Address) != "" {
		p.setAddress(q.Address)
		changed = true
	}
	if p.Email == "" && NormalizeEmail(q.Email) != "" {
		p.Email = NormalizeEmail(q.Email)
		changed = true
	}
	if p.Metadata == nil {
		p.Metadata = make(map[string]string)
	}
	if alias := strings.TrimSpace(q.Name); alias != "" && alias != p.Name {
		if _, seen := p.Metadata["alias:"+alias]; !seen {
			p.Metadata["alias:"+alias] = now.UTC().Format(time.RFC3339)
			changed = true
		}
	}
	if changed {
		p.UpdatedAt = now
	}
	return changed
}

// Clone returns a deep copy of p.
func (p *Party) Clone() *Party {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Metadata = make(map[string]string, len(p.Metadata))
	for k, v := range p.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}

// MatchTier identifies the resolver stage that produced a match.
type MatchTier int

const (
	TierTaxID       MatchTier = 1
	TierExactName   MatchTier = 2
	TierFuzzyName   MatchTier = 3
	TierNameAddress MatchTier = 4
	TierCreated     MatchTier = 5
)

func (t MatchTier) String() string {
	switch t {
	case TierTaxID:
		return "tax_id"
	case TierExactName:
		return "exact_name"
	case TierFuzzyName:
		return "fuzzy_name"
	case TierNameAddress:
		return "name_address"
	case TierCreated:
		return "created"
	default:
		return fmt.Sprintf("tier_%d", int(t))
	}
}

// PartyMatch is the outcome of resolving a PartyQuery.
type PartyMatch struct {
	Matched    bool      `json:"matched"`
	Party      *Party    `json:"party"`
	Confidence float64   `json:"confidence"`
	Tier       MatchTier `json:"tier"`
}

// PartyCandidate is a party returned by the similarity index with its
// name similarity to the query.
type PartyCandidate struct {
	Party      *Party
	Similarity float64
}

// PartyQueryFromVendor maps a flat vendor description, as produced by older
// extraction payloads, to a PartyQuery. Recognised keys:
//
//	name | vendor_name | vendor | supplier
//	tax_id | vat | vat_id | ein | tin
//	address (string or {street, city, postal_code, region, country})
//	email
func PartyQueryFromVendor(vendor map[string]any) PartyQuery {
	return PartyQuery{
		Name:    firstString(vendor, "name", "vendor_name", "vendor", "supplier"),
		TaxID:   firstString(vendor, "tax_id", "vat", "vat_id", "ein", "tin"),
		Address: vendorAddress(vendor["address"]),
		Email:   firstString(vendor, "email", "vendor_email"),
		Kind:    PartyKind(firstString(vendor, "kind")),
	}
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func vendorAddress(v any) string {
	switch addr := v.(type) {
	case string:
		return strings.TrimSpace(addr)
	case map[string]any:
		var parts []string
		for _, k := range []string{"street", "line1", "line2", "city", "postal_code", "region", "country"} {
			if s, ok := addr[k].(string); ok && strings.TrimSpace(s) != "" {
				parts = append(parts, strings.TrimSpace(s))
			}
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}

// PartyHistory is a party with everything linked to it.
type PartyHistory struct {
	Party        *Party         `json:"party"`
	Commitments  []*Commitment  `json:"commitments"`
	Documents    []*Link        `json:"documents"`
	Interactions []*Interaction `json:"interactions"`
}
