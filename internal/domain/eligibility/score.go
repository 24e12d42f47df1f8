package eligibility

import (
	"fmt"
	"strings"

	"github.com/agrimrv/backend/internal/canonical"
	"github.com/agrimrv/backend/internal/domain/farmer"
)

// ScoreScale is the upper bound of every component and of the final score.
const ScoreScale = 1000

type Band string

const (
	BandA Band = "A"
	BandB Band = "B"
	BandC Band = "C"
	BandD Band = "D"
)

func (b Band) rank() int {
	switch b {
	case BandA:
		return 4
	case BandB:
		return 3
	case BandC:
		return 2
	case BandD:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether b meets threshold.
func (b Band) AtLeast(threshold Band) bool {
	return b.rank() > 0 && threshold.rank() > 0 && b.rank() >= threshold.rank()
}

// ParseBand accepts offer thresholds. D is not a valid threshold: it is the
// band below every offer.
func ParseBand(s string) (Band, error) {
	switch Band(strings.ToUpper(strings.TrimSpace(s))) {
	case BandA:
		return BandA, nil
	case BandB:
		return BandB, nil
	case BandC:
		return BandC, nil
	default:
		return "", fmt.Errorf("invalid band %q", s)
	}
}

// Weights drive the scoring formula. All arithmetic is integer so the same
// profile and weights always produce the same band.
type Weights struct {
	Completion        int64
	Area              int64
	Cooperative       int64
	AreaCapHundredths int64
	BandA             int64
	BandB             int64
	BandC             int64
}

func (w Weights) Validate() error {
	if w.Completion < 0 || w.Area < 0 || w.Cooperative < 0 {
		return fmt.Errorf("score weights must be non-negative")
	}
	if w.Completion+w.Area+w.Cooperative == 0 {
		return fmt.Errorf("score weights must not all be zero")
	}
	if w.AreaCapHundredths <= 0 {
		return fmt.Errorf("area cap must be positive")
	}
	if !(w.BandA > w.BandB && w.BandB > w.BandC && w.BandC > 0 && w.BandA <= ScoreScale) {
		return fmt.Errorf("band cut-offs must satisfy 0 < C < B < A <= %d", ScoreScale)
	}
	return nil
}

type ScoreCard struct {
	Score          int64 `json:"score"`
	Band           Band  `json:"band"`
	Completion     int64 `json:"completion"`
	AreaHundredths int64 `json:"area_hundredths"`
	AreaComponent  int64 `json:"area_component"`
	Cooperative    bool  `json:"cooperative"`
}

// Score computes the credit score card of a profile snapshot.
//
// completion = harvested / closed seasons (harvested + failed), or
// harvested / all seasons when none are closed yet; area is the total
// cultivated area clipped at the cap.
func Score(p farmer.Profile, w Weights) ScoreCard {
	var harvested, closed, totalArea int64
	for _, s := range p.Seasons {
		switch strings.ToLower(strings.TrimSpace(s.Status)) {
		case farmer.SeasonHarvested:
			harvested++
			closed++
		case farmer.SeasonFailed:
			closed++
		}
		if a := canonical.AreaHundredths(s.Area); a > 0 {
			totalArea += a
		}
	}

	denominator := closed
	if denominator == 0 {
		denominator = int64(len(p.Seasons))
	}
	var completion int64
	if denominator > 0 {
		completion = harvested * ScoreScale / denominator
	}

	clipped := totalArea
	if clipped > w.AreaCapHundredths {
		clipped = w.AreaCapHundredths
	}
	var areaComponent int64
	if w.AreaCapHundredths > 0 {
		areaComponent = clipped * ScoreScale / w.AreaCapHundredths
	}

	var coop int64
	if p.CooperativeMember {
		coop = ScoreScale
	}

	var score int64
	if total := w.Completion + w.Area + w.Cooperative; total > 0 {
		score = (w.Completion*completion + w.Area*areaComponent + w.Cooperative*coop) / total
	}

	return ScoreCard{
		Score:          score,
		Band:           w.band(score),
		Completion:     completion,
		AreaHundredths: totalArea,
		AreaComponent:  areaComponent,
		Cooperative:    p.CooperativeMember,
	}
}

func (w Weights) band(score int64) Band {
	switch {
	case score >= w.BandA:
		return BandA
	case score >= w.BandB:
		return BandB
	case score >= w.BandC:
		return BandC
	default:
		return BandD
	}
}
