package eligibility

import (
	"sort"

	"github.com/agrimrv/backend/internal/domain/farmer"
	"github.com/agrimrv/backend/internal/domain/lender"
)

type EligibleOffer struct {
	lender.Offer
	QualifiedBand Band `json:"qualified_band"`
	Rank          int  `json:"rank"`
}

type MatchOptions struct {
	// PremiumUnlocked exposes offers tagged premium. It is set when the
	// profile snapshot being matched has a verified anchor.
	PremiumUnlocked bool
}

type Result struct {
	ScoreCard       ScoreCard       `json:"score_card"`
	TotalLenders    int             `json:"total_lenders"`
	EligibleLenders int             `json:"eligible_lenders"`
	Offers          []EligibleOffer `json:"eligible_offers"`
}

// Match scores the snapshot once, filters the catalog in a single pass and
// ranks the survivors. The catalog slice is not modified.
func Match(snapshot farmer.Profile, catalog []lender.Offer, w Weights, opts MatchOptions) Result {
	card := Score(snapshot, w)

	lenders := make(map[string]struct{}, len(catalog))
	eligibleLenders := map[string]struct{}{}
	offers := make([]EligibleOffer, 0, len(catalog))

	for _, o := range catalog {
		lenders[o.LenderID] = struct{}{}
		if !o.Active {
			continue
		}
		threshold, err := ParseBand(o.MinBand)
		if err != nil || !card.Band.AtLeast(threshold) {
			continue
		}
		if o.HasTag(lender.TagPremium) && !opts.PremiumUnlocked {
			continue
		}
		eligibleLenders[o.LenderID] = struct{}{}
		offers = append(offers, EligibleOffer{Offer: o, QualifiedBand: card.Band})
	}

	sort.SliceStable(offers, func(i, j int) bool {
		return less(offers[i].Offer, offers[j].Offer)
	})
	for i := range offers {
		offers[i].Rank = i + 1
	}

	return Result{
		ScoreCard:       card,
		TotalLenders:    len(lenders),
		EligibleLenders: len(eligibleLenders),
		Offers:          offers,
	}
}

func less(a, b lender.Offer) bool {
	if a.Rating != b.Rating {
		return a.Rating > b.Rating
	}
	if a.InterestRateMinBPS != b.InterestRateMinBPS {
		return a.InterestRateMinBPS < b.InterestRateMinBPS
	}
	if a.ProcessingDays != b.ProcessingDays {
		return a.ProcessingDays < b.ProcessingDays
	}
	if a.LenderID != b.LenderID {
		return a.LenderID < b.LenderID
	}
	return a.ID < b.ID
}
