package evidence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/starford/casefile/internal/apperr"
	"github.com/starford/casefile/internal/models"
)

// RawTransaction is a black-market sale as recorded by the game. It may
// carry token text, which the curator drops.
type RawTransaction struct {
	TokenID         string    `json:"tokenId"`
	Amount          int64     `json:"amount"`
	Account         string    `json:"account"`
	At              time.Time `json:"at"`
	SellerIdentity  string    `json:"sellerIdentity,omitempty"`
	Summary         string    `json:"summary,omitempty"`
	FullDescription string    `json:"fullDescription,omitempty"`
}

// RawDirectorNotes are the director's notes as submitted.
type RawDirectorNotes struct {
	Observations string `json:"observations"`
	Whiteboard   string `json:"whiteboard,omitempty"`
}

// CurateInput lists what a session exposed, buried and photographed.
type CurateInput struct {
	ExposedTokenIDs []string          `json:"exposedTokenIds"`
	BuriedTokenIDs  []string          `json:"buriedTokenIds"`
	Transactions    []RawTransaction  `json:"transactions"`
	DirectorNotes   RawDirectorNotes  `json:"directorNotes"`
	PhotoIDs        []string          `json:"photoIds,omitempty"`
	Disclosures     map[string]string `json:"disclosures,omitempty"` // token id → character who exposed it
}

// Loader fetches entities by id, typically through the cached source client.
type Loader interface {
	FetchByIDs(ctx context.Context, entityType models.EntityType, ids []string) ([]models.Entity, error)
}

// Curator builds evidence bundles.
type Curator struct {
	loader Loader
}

// NewCurator returns a Curator loading records through loader.
func NewCurator(loader Loader) *Curator {
	return &Curator{loader: loader}
}

// Curate builds the bundle for in. Only referenced records are included.
// A referenced record that cannot be found, or a token listed as both
// exposed and buried, fails the whole curation.
func (c *Curator) Curate(ctx context.Context, in CurateInput) (Bundle, error) {
	exposedIDs := dedupe(in.ExposedTokenIDs)
	buriedIDs := dedupe(in.BuriedTokenIDs)
	photoIDs := dedupe(in.PhotoIDs)

	problems := map[string][]string{}

	buriedSet := toSet(buriedIDs)
	for _, id := range exposedIDs {
		if _, ok := buriedSet[id]; ok {
			problems["overlap"] = append(problems["overlap"], id)
		}
	}

	tokens, err := c.loader.FetchByIDs(ctx, models.EntityToken, exposedIDs)
	if err != nil {
		return Bundle{}, fmt.Errorf("evidence: load exposed tokens: %w", err)
	}
	byID := make(map[string]models.Entity, len(tokens))
	for _, e := range tokens {
		byID[e.RemoteID] = e
	}

	exposed := make([]ExposedEvidence, 0, len(exposedIDs))
	for _, id := range exposedIDs {
		e, ok := byID[id]
		if !ok {
			problems["missing_tokens"] = append(problems["missing_tokens"], id)
			continue
		}
		var tok models.Token
		if err := e.Decode(&tok); err != nil {
			return Bundle{}, fmt.Errorf("evidence: %w", err)
		}
		exposed = append(exposed, ExposedEvidence{
			TokenID:         id,
			Name:            tok.Name,
			FullDescription: tok.FullDescription,
			Summary:         tok.Summary,
			DisclosedBy:     in.Disclosures[id],
			Owners:          append([]string(nil), tok.Owners...),
			MemoryType:      tok.MemoryType,
			ValueRating:     tok.ValueRating,
		})
	}

	buried := make([]BuriedTransaction, 0, len(buriedIDs))
	withTx := map[string]struct{}{}
	for _, tx := range in.Transactions {
		if _, ok := buriedSet[tx.TokenID]; !ok {
			continue
		}
		withTx[tx.TokenID] = struct{}{}
		buried = append(buried, BuriedTransaction{
			TokenID:        tx.TokenID,
			Amount:         tx.Amount,
			Account:        tx.Account,
			At:             tx.At,
			SellerIdentity: tx.SellerIdentity,
		})
	}
	for _, id := range buriedIDs {
		if _, ok := withTx[id]; !ok {
			problems["missing_transactions"] = append(problems["missing_transactions"], id)
		}
	}
	sort.SliceStable(buried, func(i, j int) bool {
		if buried[i].TokenID != buried[j].TokenID {
			return buried[i].TokenID < buried[j].TokenID
		}
		return buried[i].At.Before(buried[j].At)
	})

	photos := make([]PhotoEvidence, 0, len(photoIDs))
	if len(photoIDs) > 0 {
		entities, err := c.loader.FetchByIDs(ctx, models.EntityPhoto, photoIDs)
		if err != nil {
			return Bundle{}, fmt.Errorf("evidence: load photos: %w", err)
		}
		found := make(map[string]models.Entity, len(entities))
		for _, e := range entities {
			found[e.RemoteID] = e
		}
		for _, id := range photoIDs {
			e, ok := found[id]
			if !ok {
				problems["missing_photos"] = append(problems["missing_photos"], id)
				continue
			}
			var p models.Photo
			if err := e.Decode(&p); err != nil {
				return Bundle{}, fmt.Errorf("evidence: %w", err)
			}
			photos = append(photos, PhotoEvidence{ID: id, Caption: p.Caption, Characters: append([]string(nil), p.Characters...)})
		}
	}

	if len(problems) > 0 {
		return Bundle{}, inconsistency(problems)
	}

	return Bundle{
		Exposed: exposed,
		Buried:  buried,
		DirectorNotes: DirectorNotes{
			Observations: in.DirectorNotes.Observations,
			Whiteboard:   in.DirectorNotes.Whiteboard,
		},
		Photos: photos,
	}, nil
}

func inconsistency(problems map[string][]string) error {
	keys := make([]string, 0, len(problems))
	for k := range problems {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	meta := make(map[string]string, len(problems))
	parts := make([]string, 0, len(problems))
	for _, k := range keys {
		ids := problems[k]
		sort.Strings(ids)
		meta[k] = strings.Join(ids, ",")
		parts = append(parts, k+": "+strings.Join(ids, ", "))
	}
	return apperr.WithMetadata(apperr.KindCurationInconsistency,
		"evidence: inconsistent session input ("+strings.Join(parts, "; ")+")", meta)
}

// dedupe drops blanks and duplicates and sorts the result.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
