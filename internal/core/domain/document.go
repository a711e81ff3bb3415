package domain

import "time"

// StoredFile is a content-addressed blob. Address is the hex SHA-256 of the
// bytes, so identical uploads resolve to the same record and location
// whatever their original filename.
type StoredFile struct {
	ID           string    `json:"id"`
	Address      string    `json:"address"`
	Size         int64     `json:"size"`
	MediaType    string    `json:"media_type"`
	Location     string    `json:"location"`
	OriginalName string    `json:"original_name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// StoreResult is returned by the content store.
type StoreResult struct {
	File           *StoredFile `json:"file"`
	AlreadyExisted bool        `json:"already_existed"`
}

// Address returns the content address of the stored file.
func (r *StoreResult) Address() string {
	return r.File.Address
}

// Location returns the storage key of the stored file.
func (r *StoreResult) Location() string {
	return r.File.Location
}

// EntityKind names the kind of entity a polymorphic reference points at
type EntityKind string

const (
	EntityKindDocument   EntityKind = "document"
	EntityKindParty      EntityKind = "party"
	EntityKindCommitment EntityKind = "commitment"
	EntityKindSignal     EntityKind = "signal"
)

// IsValid returns true if the kind is recognized
func (k EntityKind) IsValid() bool {
	switch k {
	case EntityKindDocument, EntityKindParty, EntityKindCommitment, EntityKindSignal:
		return true
	}
	return false
}

// EntityRef is a (kind, id) pair
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

// Ref builds an EntityRef.
func Ref(kind EntityKind, id string) EntityRef {
	return EntityRef{Kind: kind, ID: id}
}

// Link records that a stored document is evidence for an entity. Links are
// immutable and disappear only when their document is deleted.
type Link struct {
	ID         string     `json:"id"`
	DocumentID string     `json:"document_id"`
	EntityKind EntityKind `json:"entity_kind"`
	EntityID   string     `json:"entity_id"`
	CreatedAt  time.Time  `json:"created_at"`
}

// NewLink creates a link between a document and an entity.
func NewLink(documentID string, entity EntityRef, now time.Time) *Link {
	return &Link{
		ID:         GenerateID(),
		DocumentID: documentID,
		EntityKind: entity.Kind,
		EntityID:   entity.ID,
		CreatedAt:  now,
	}
}

// Entity returns the linked entity reference.
func (l *Link) Entity() EntityRef {
	return EntityRef{Kind: l.EntityKind, ID: l.EntityID}
}
