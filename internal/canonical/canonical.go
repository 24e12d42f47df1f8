// Package canonical derives the content address of a farmer credit profile.
//
// The canonical form is a versioned JSON document whose fields are emitted in
// this fixed order:
//
//	v, farmer_id, national_id_hash, region, district, village, phone,
//	cooperative_member, cooperative_id, attributes, seasons
//
// Each season is emitted as crop_type, area_hundredths, sowing_date, status.
// Attribute keys are sorted, strings are trimmed, areas are integer hundredths
// of a hectare and dates are the UTC calendar day (YYYY-MM-DD). Revision and
// timestamps are not part of the canonical form: two revisions with identical
// content share a hash.
package canonical

import (
	"bytes"
	"cmp"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"

	"github.com/agrimrv/backend/internal/apperr"
	"github.com/agrimrv/backend/internal/domain/farmer"
)

const (
	Version  = 1
	HashSize = 32
)

var hundred = decimal.NewFromInt(100)

type Result struct {
	Bytes []byte
	Hash  []byte
}

func (r Result) HashHex() string {
	return HashHex(r.Hash)
}

type document struct {
	V                 int         `json:"v"`
	FarmerID          string      `json:"farmer_id"`
	NationalIDHash    string      `json:"national_id_hash"`
	Region            string      `json:"region"`
	District          string      `json:"district"`
	Village           string      `json:"village"`
	Phone             string      `json:"phone"`
	CooperativeMember bool        `json:"cooperative_member"`
	CooperativeID     string      `json:"cooperative_id"`
	Attributes        []attribute `json:"attributes"`
	Seasons           []season    `json:"seasons"`
}

// attribute pairs are emitted as a sorted array rather than a JSON object so
// the ordering is explicit in the document itself.
type attribute struct {
	K string `json:"k"`
	V string `json:"v"`
}

type season struct {
	CropType       string `json:"crop_type"`
	AreaHundredths int64  `json:"area_hundredths"`
	SowingDate     string `json:"sowing_date"`
	Status         string `json:"status"`
}

// Canonicalize returns the canonical bytes of p and their Keccak-256 hash.
func Canonicalize(p farmer.Profile) (Result, error) {
	doc, err := build(p)
	if err != nil {
		return Result{}, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return Result{}, fmt.Errorf("encode canonical profile: %w", err)
	}
	out := bytes.TrimRight(buf.Bytes(), "\n")

	return Result{Bytes: out, Hash: Hash(out)}, nil
}

// Hash is the content hash used for anchoring.
func Hash(b []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(b)
	return h.Sum(nil)
}

func HashHex(hash []byte) string {
	return "0x" + hex.EncodeToString(hash)
}

func ParseHash(input string) ([]byte, error) {
	raw := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(input)), "0x")
	if raw == "" {
		return nil, fmt.Errorf("missing_profile_hash")
	}
	out, err := hex.DecodeString(raw)
	if err != nil || len(out) != HashSize {
		return nil, fmt.Errorf("invalid_profile_hash")
	}
	return out, nil
}

// AreaHundredths converts hectares to integer hundredths, rounding half away from zero.
func AreaHundredths(area decimal.Decimal) int64 {
	return area.Mul(hundred).Round(0).IntPart()
}

// CalendarDay normalizes t to UTC midnight.
func CalendarDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func build(p farmer.Profile) (document, error) {
	doc := document{
		V:                 Version,
		FarmerID:          strings.TrimSpace(p.ID),
		NationalIDHash:    strings.ToLower(strings.TrimSpace(p.NationalIDHash)),
		Region:            strings.TrimSpace(p.Region),
		District:          strings.TrimSpace(p.District),
		Village:           strings.TrimSpace(p.Village),
		Phone:             strings.TrimSpace(p.Phone),
		CooperativeMember: p.CooperativeMember,
		CooperativeID:     strings.TrimSpace(p.CooperativeID),
		Attributes:        []attribute{},
		Seasons:           make([]season, 0, len(p.Seasons)),
	}
	if doc.FarmerID == "" {
		return document{}, invalid("farmer_id", "required")
	}
	if doc.NationalIDHash == "" {
		return document{}, invalid("national_id_hash", "required")
	}
	if doc.Region == "" {
		return document{}, invalid("region", "required")
	}
	if !doc.CooperativeMember {
		doc.CooperativeID = ""
	}

	seen := make(map[string]struct{}, len(p.Attributes))
	for k, v := range p.Attributes {
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			return document{}, invalid("attributes."+k, "duplicate key after trimming")
		}
		seen[k] = struct{}{}
		doc.Attributes = append(doc.Attributes, attribute{K: k, V: v})
	}
	slices.SortFunc(doc.Attributes, func(a, b attribute) int {
		if c := cmp.Compare(a.K, b.K); c != 0 {
			return c
		}
		return cmp.Compare(a.V, b.V)
	})

	for i, s := range p.Seasons {
		crop := strings.ToLower(strings.TrimSpace(s.CropType))
		if crop == "" {
			return document{}, invalid(fmt.Sprintf("seasons[%d].crop_type", i), "required")
		}
		area := AreaHundredths(s.Area)
		if area <= 0 {
			return document{}, invalid(fmt.Sprintf("seasons[%d].area", i), "must be positive")
		}
		if s.SowingDate.IsZero() {
			return document{}, invalid(fmt.Sprintf("seasons[%d].sowing_date", i), "required")
		}
		status := strings.ToLower(strings.TrimSpace(s.Status))
		if !farmer.ValidSeasonStatus(status) {
			return document{}, invalid(fmt.Sprintf("seasons[%d].status", i), "unknown status")
		}
		doc.Seasons = append(doc.Seasons, season{
			CropType:       crop,
			AreaHundredths: area,
			SowingDate:     CalendarDay(s.SowingDate).Format(time.DateOnly),
			Status:         status,
		})
	}
	return doc, nil
}

func invalid(field, msg string) error {
	return apperr.New(apperr.KindInvalidProfile, field+": "+msg)
}
