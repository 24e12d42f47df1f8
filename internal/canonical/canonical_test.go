package canonical

import (
	"testing"
	"time"

	"github.com/agrimrv/backend/internal/apperr"
	"github.com/agrimrv/backend/internal/domain/farmer"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseProfile() farmer.Profile {
	return farmer.Profile{
		ID:                "farmer-1",
		FullName:          "Nguyen Van A",
		NationalIDHash:    "0xABCDEF",
		Region:            "Mekong Delta",
		District:          "Can Tho",
		Village:           "Phong Dien",
		Phone:             "+84900000000",
		CooperativeMember: true,
		CooperativeID:     "coop-7",
		Seasons: []farmer.Season{
			{CropType: "Rice", Area: decimal.RequireFromString("2.505"), SowingDate: time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC), Status: "harvested"},
			{CropType: "maize", Area: decimal.RequireFromString("1.2"), SowingDate: time.Date(2024, 9, 10, 0, 0, 0, 0, time.UTC), Status: "sown"},
		},
		Revision: 4,
	}
}

func TestCanonicalizeAttributeInsertionOrder(t *testing.T) {
	p1 := baseProfile()
	p1.Attributes = map[string]string{}
	p1.Attributes["water_source"] = "canal"
	p1.Attributes["soil"] = "alluvial"
	p1.Attributes["irrigated"] = "yes"

	p2 := baseProfile()
	p2.Attributes = map[string]string{}
	p2.Attributes["irrigated"] = "yes"
	p2.Attributes["soil"] = "alluvial"
	p2.Attributes["water_source"] = "canal"

	r1, err := Canonicalize(p1)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		r2, err := Canonicalize(p2)
		require.NoError(t, err)
		assert.Equal(t, r1.Hash, r2.Hash)
		assert.Equal(t, r1.Bytes, r2.Bytes)
	}
	assert.Len(t, r1.Hash, HashSize)
}

func TestCanonicalizeNormalizesDatesAndArea(t *testing.T) {
	p1 := baseProfile()
	p2 := baseProfile()
	hcm := time.FixedZone("ICT", 7*3600)
	// same UTC day, different wall clock and zone
	p2.Seasons[0].SowingDate = time.Date(2024, 3, 1, 22, 0, 0, 0, hcm)
	p2.Seasons[0].Area = decimal.RequireFromString("2.5050")
	p2.Seasons[0].CropType = "  RICE "

	r1, err := Canonicalize(p1)
	require.NoError(t, err)
	r2, err := Canonicalize(p2)
	require.NoError(t, err)
	assert.Equal(t, r1.HashHex(), r2.HashHex())
	assert.Contains(t, string(r1.Bytes), `"area_hundredths":251`)
	assert.Contains(t, string(r1.Bytes), `"sowing_date":"2024-03-01"`)
}

func TestCanonicalizeIgnoresRevisionAndTimestamps(t *testing.T) {
	p1 := baseProfile()
	p2 := baseProfile()
	p2.Revision = 99
	p2.UpdatedAt = time.Now()

	r1, err := Canonicalize(p1)
	require.NoError(t, err)
	r2, err := Canonicalize(p2)
	require.NoError(t, err)
	assert.Equal(t, r1.Hash, r2.Hash)
}

func TestCanonicalizeDetectsContentChange(t *testing.T) {
	p1 := baseProfile()
	p2 := baseProfile()
	p2.Seasons[1].Status = "harvested"

	r1, err := Canonicalize(p1)
	require.NoError(t, err)
	r2, err := Canonicalize(p2)
	require.NoError(t, err)
	assert.NotEqual(t, r1.Hash, r2.Hash)
}

func TestCanonicalizeInvalidProfile(t *testing.T) {
	cases := map[string]func(p *farmer.Profile){
		"missing id":       func(p *farmer.Profile) { p.ID = "" },
		"missing national": func(p *farmer.Profile) { p.NationalIDHash = " " },
		"missing region":   func(p *farmer.Profile) { p.Region = "" },
		"zero area":        func(p *farmer.Profile) { p.Seasons[0].Area = decimal.Zero },
		"missing crop":     func(p *farmer.Profile) { p.Seasons[1].CropType = "" },
		"bad status":       func(p *farmer.Profile) { p.Seasons[1].Status = "growing" },
		"missing date":     func(p *farmer.Profile) { p.Seasons[0].SowingDate = time.Time{} },
		"colliding keys": func(p *farmer.Profile) {
			p.Attributes = map[string]string{"irrigation": "drip", " irrigation": "sprinkler", "irrigation ": "flood"}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := baseProfile()
			mutate(&p)
			_, err := Canonicalize(p)
			require.Error(t, err)
			assert.Equal(t, apperr.KindInvalidProfile, apperr.KindOf(err))
		})
	}
}

func TestCanonicalizePaddedKeysHashStably(t *testing.T) {
	p := baseProfile()
	p.Attributes = map[string]string{" soil": "loam", "water ": "canal", "tenure": " owned ", "blank": " "}

	first, err := Canonicalize(p)
	require.NoError(t, err)
	assert.Contains(t, string(first.Bytes), `"attributes":[{"k":"soil","v":"loam"},{"k":"tenure","v":"owned"},{"k":"water","v":"canal"}]`)
	for i := 0; i < 200; i++ {
		again, err := Canonicalize(p)
		require.NoError(t, err)
		require.Equal(t, first.Hash, again.Hash)
	}
}

func TestParseHashRoundTrip(t *testing.T) {
	r, err := Canonicalize(baseProfile())
	require.NoError(t, err)

	parsed, err := ParseHash(r.HashHex())
	require.NoError(t, err)
	assert.Equal(t, r.Hash, parsed)

	_, err = ParseHash("0x1234")
	assert.Error(t, err)
	_, err = ParseHash("")
	assert.Error(t, err)
}
