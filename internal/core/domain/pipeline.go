package domain

import "time"

// UploadRequest is the input to upload processing.
type UploadRequest struct {
	Data           []byte
	DeclaredName   string
	ExtractionKind ExtractionKind
	Actor          string
}

// DocumentSummary describes the stored document in a ProcessingResult.
type DocumentSummary struct {
	ID             string `json:"id"`
	Address        string `json:"address"`
	MediaType      string `json:"media_type"`
	Size           int64  `json:"size"`
	AlreadyExisted bool   `json:"already_existed"`
}

// PartySummary describes the resolved party.
type PartySummary struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	MatchedExisting bool      `json:"matched_existing"`
	Confidence      float64   `json:"confidence"`
	Tier            MatchTier `json:"tier"`
}

// CommitmentSummary describes the created commitment.
type CommitmentSummary struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Priority int    `json:"priority"`
	Reason   string `json:"reason"`
}

// ResourceLinks point the caller at follow-up lookups.
type ResourceLinks struct {
	Download     string `json:"download"`
	PartyHistory string `json:"party_history"`
	Timeline     string `json:"timeline"`
}

// ProcessingResult is returned by upload processing.
type ProcessingResult struct {
	Document      DocumentSummary    `json:"document"`
	Party         *PartySummary      `json:"party,omitempty"`
	Commitment    *CommitmentSummary `json:"commitment,omitempty"`
	SignalID      string             `json:"signal_id"`
	InteractionID string             `json:"interaction_id,omitempty"`
	Duplicate     bool               `json:"duplicate"`
	Cost          *Money             `json:"cost,omitempty"`
	Model         string             `json:"model,omitempty"`
	Duration      time.Duration      `json:"duration_ns"`
	Links         ResourceLinks      `json:"links"`
}

// NewResourceLinks builds the follow-up links for a document and party.
func NewResourceLinks(documentID, partyID string) ResourceLinks {
	links := ResourceLinks{
		Download: "/api/v1/documents/" + documentID + "/download",
		Timeline: "/api/v1/interactions?entity_kind=document&entity_id=" + documentID,
	}
	if partyID != "" {
		links.PartyHistory = "/api/v1/parties/" + partyID + "/history"
	}
	return links
}

// EnqueueResult is returned when an upload is stored and queued for
// background processing.
type EnqueueResult struct {
	Document DocumentSummary `json:"document"`
	TaskID   string          `json:"task_id"`
}
