// Package band derives canonical band tokens from COG records.
//
// A token is either a COG's own type (when it is not the MULTI sentinel) or a band
// description with the legacy "IMG_" prefix removed. Records ingested before
// descriptions were normalized still carry the prefix, so every consumer goes
// through NormalizeName rather than trusting stored values.
package band

import (
	"sort"
	"strings"

	"github.com/trinetra-eo/cogcatalog/internal/model"
)

const imgPrefix = "IMG_"

// NormalizeName strips a single leading "IMG_" from a band description.
func NormalizeName(description string) string {
	return strings.TrimPrefix(description, imgPrefix)
}

// IsNative reports whether the cog's type names a real band rather than MULTI.
func IsNative(cog model.Cog) bool {
	return cog.Type != "" && cog.Type != model.MultiType
}

// EffectiveBands returns every token a cog matches when filtered by band or type,
// native type first, then band descriptions in their stored order.
func EffectiveBands(cog model.Cog) []string {
	seen := make(map[string]struct{}, len(cog.Bands)+1)
	tokens := make([]string, 0, len(cog.Bands)+1)
	add := func(t string) {
		if t == "" {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		tokens = append(tokens, t)
	}
	if IsNative(cog) {
		add(cog.Type)
	}
	for _, b := range cog.Bands {
		if b.Description != "" {
			add(NormalizeName(b.Description))
		}
	}
	return tokens
}

// Matches reports whether token is one of the cog's effective bands.
func Matches(cog model.Cog, token string) bool {
	token = NormalizeName(token)
	for _, t := range EffectiveBands(cog) {
		if t == token {
			return true
		}
	}
	return false
}

// MatchesAny reports whether the cog matches at least one of tokens.
// An empty token list matches everything.
func MatchesAny(cog model.Cog, tokens []string) bool {
	if len(tokens) == 0 {
		return true
	}
	for _, t := range tokens {
		if Matches(cog, t) {
			return true
		}
	}
	return false
}

// Distinct returns the sorted set of tokens across cogs.
func Distinct(cogs []model.Cog) []string {
	set := make(map[string]struct{})
	for _, c := range cogs {
		for _, t := range EffectiveBands(c) {
			set[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Representative is the record chosen to stand for one band token.
type Representative struct {
	Band   string    `json:"band"`
	Native bool      `json:"native"`
	Cog    model.Cog `json:"cog"`
}

// Representatives picks one cog per token, iterating cogs in the given order.
//
// The first native-sourced cog for a token wins. A MULTI-sourced cog is only kept
// while no native source has been seen, and is replaced as soon as one is.
// The result is sorted by token.
func Representatives(cogs []model.Cog) []Representative {
	picked := make(map[string]*Representative)
	for _, c := range cogs {
		native := IsNative(c)
		if native {
			if cur, ok := picked[c.Type]; !ok || !cur.Native {
				picked[c.Type] = &Representative{Band: c.Type, Native: true, Cog: c}
			}
		}
		for _, b := range c.Bands {
			if b.Description == "" {
				continue
			}
			token := NormalizeName(b.Description)
			if native && token == c.Type {
				continue
			}
			if _, ok := picked[token]; !ok {
				picked[token] = &Representative{Band: token, Native: false, Cog: c}
			}
		}
	}

	out := make([]Representative, 0, len(picked))
	for _, r := range picked {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Band < out[j].Band })
	return out
}

// NormalizeCog returns a copy of cog with its product code and band
// descriptions stripped of the "IMG_" prefix.
func NormalizeCog(cog model.Cog) model.Cog {
	cog.ProductCode = NormalizeName(cog.ProductCode)
	if cog.Bands != nil {
		bands := make([]model.Band, len(cog.Bands))
		copy(bands, cog.Bands)
		for i := range bands {
			bands[i].Description = NormalizeName(bands[i].Description)
		}
		cog.Bands = bands
	}
	return cog
}
