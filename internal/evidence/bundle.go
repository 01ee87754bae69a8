// Package evidence curates a session's records into a three-layer evidence bundle.
//
// Layer 1 (exposed) is quotable in full. Layer 2 (buried) keeps only
// transaction facts. Layer 3 (director notes) is the director's own
// observation text, copied verbatim.
package evidence

import "time"

// ExposedEvidence is a memory token the players surfaced. Its content may be
// quoted.
type ExposedEvidence struct {
	TokenID         string   `json:"tokenId"`
	Name            string   `json:"name"`
	FullDescription string   `json:"fullDescription"`
	Summary         string   `json:"summary,omitempty"`
	DisclosedBy     string   `json:"disclosedBy,omitempty"`
	Owners          []string `json:"owners,omitempty"`
	MemoryType      string   `json:"memoryType,omitempty"`
	ValueRating     int      `json:"valueRating,omitempty"`
}

// BuriedTransaction is a sold memory token. Only the sale is known; the
// token's content is never carried.
type BuriedTransaction struct {
	TokenID        string    `json:"tokenId"`
	Amount         int64     `json:"amount"`
	Account        string    `json:"account"`
	At             time.Time `json:"at"`
	SellerIdentity string    `json:"sellerIdentity,omitempty"`
}

// DirectorNotes are the director's observations. Observations are the
// primary source; the whiteboard is secondary.
type DirectorNotes struct {
	Observations string `json:"observations"`
	Whiteboard   string `json:"whiteboard,omitempty"`
}

// PhotoEvidence is a session photo with its caption.
type PhotoEvidence struct {
	ID         string   `json:"id"`
	Caption    string   `json:"caption"`
	Characters []string `json:"characters,omitempty"`
}

// Bundle is the curated evidence of one session.
type Bundle struct {
	Exposed       []ExposedEvidence   `json:"exposed"`
	Buried        []BuriedTransaction `json:"buried"`
	DirectorNotes DirectorNotes       `json:"directorNotes"`
	Photos        []PhotoEvidence     `json:"photos"`
}

// Clone returns a deep copy of b.
func (b Bundle) Clone() Bundle {
	out := Bundle{
		Exposed:       make([]ExposedEvidence, len(b.Exposed)),
		Buried:        make([]BuriedTransaction, len(b.Buried)),
		DirectorNotes: b.DirectorNotes,
		Photos:        make([]PhotoEvidence, len(b.Photos)),
	}
	for i, e := range b.Exposed {
		e.Owners = append([]string(nil), e.Owners...)
		out.Exposed[i] = e
	}
	copy(out.Buried, b.Buried)
	for i, p := range b.Photos {
		p.Characters = append([]string(nil), p.Characters...)
		out.Photos[i] = p
	}
	return out
}

// EvidenceIDs returns the ids an artifact may cite: exposed tokens and photos.
func (b Bundle) EvidenceIDs() []string {
	out := make([]string, 0, len(b.Exposed)+len(b.Photos))
	for _, e := range b.Exposed {
		out = append(out, e.TokenID)
	}
	for _, p := range b.Photos {
		out = append(out, p.ID)
	}
	return out
}

// AllIDs returns every id an arc may cite: exposed tokens, photos and
// buried tokens.
func (b Bundle) AllIDs() []string {
	return append(b.EvidenceIDs(), b.BuriedIDs()...)
}

// BuriedIDs returns the ids of buried tokens.
func (b Bundle) BuriedIDs() []string {
	seen := make(map[string]struct{}, len(b.Buried))
	out := make([]string, 0, len(b.Buried))
	for _, t := range b.Buried {
		if _, ok := seen[t.TokenID]; ok {
			continue
		}
		seen[t.TokenID] = struct{}{}
		out = append(out, t.TokenID)
	}
	return out
}

// Totals sums buried amounts per account.
func (b Bundle) Totals() map[string]int64 {
	out := make(map[string]int64)
	for _, t := range b.Buried {
		out[t.Account] += t.Amount
	}
	return out
}
