// Package match scans an ordered result list for the tracked business and
// reports its first organic and first ad rank.
package match

import "github.com/hazyhaar/rankwatch/serp"

// TopN is how many leading entries are kept as competitive context.
const TopN = 10

// Competitor is one row of the top-N snapshot, target or not.
type Competitor struct {
	Rank      int    `json:"rank"`
	Name      string `json:"name"`
	ListingID string `json:"listing_id,omitempty"`
	Ad        bool   `json:"ad"`
}

// Outcome is the result of matching one keyword's entries against a target.
// OrganicRank and AdRank are independently nil — a listing can hold an ad
// slot and an organic slot on the same page, either, or neither.
type Outcome struct {
	OrganicRank *int
	AdRank      *int
	Found       bool
	TopTen      []Competitor
}

// Match walks entries in document order. Identifier equality takes precedence
// when both sides carry an ID, since name collisions are plausible and ID
// collisions are not; otherwise normalized-name equality decides. The first
// matching ad entry and the first matching organic entry fill the two rank
// slots independently. The walk stops early once both slots are filled and
// the top-N snapshot is complete.
func Match(entries []serp.Entry, targetName, targetID string) Outcome {
	var out Outcome
	normalized := serp.Normalize(targetName)

	for _, e := range entries {
		if len(out.TopTen) < TopN {
			out.TopTen = append(out.TopTen, Competitor{
				Rank:      e.Position,
				Name:      e.Name,
				ListingID: e.ListingID,
				Ad:        e.Ad,
			})
		}

		if isTarget(e, normalized, targetID) {
			pos := e.Position
			if e.Ad && out.AdRank == nil {
				out.AdRank = &pos
			}
			if !e.Ad && out.OrganicRank == nil {
				out.OrganicRank = &pos
			}
		}

		if out.OrganicRank != nil && out.AdRank != nil && len(out.TopTen) >= TopN {
			break
		}
	}

	out.Found = out.OrganicRank != nil || out.AdRank != nil
	return out
}

func isTarget(e serp.Entry, normalizedName, targetID string) bool {
	if targetID != "" && e.ListingID != "" {
		return e.ListingID == targetID
	}
	return normalizedName != "" && e.Normalized == normalizedName
}
