package query

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	apperrors "github.com/trinetra-eo/cogcatalog/internal/errors"
	"github.com/trinetra-eo/cogcatalog/internal/storage"
)

// DefaultFrameCount is used by "last N" queries when no count is given.
const DefaultFrameCount = 10

// ValidFrameCounts is the allow-list for "last N" queries.
var ValidFrameCounts = []int{1, 3, 5, 10, 15, 20, 25, 30, 50}

const dateLayout = "2006-01-02"

// ParseFrameCount validates a raw count parameter. An empty value yields DefaultFrameCount.
func ParseFrameCount(raw string) (int, error) {
	if raw == "" {
		return DefaultFrameCount, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, apperrors.Invalid(apperrors.CAT_FRAME_COUNT, "count must be one of %v", ValidFrameCounts)
	}
	if err := ValidateFrameCount(n); err != nil {
		return 0, err
	}
	return n, nil
}

// ValidateFrameCount rejects counts outside ValidFrameCounts.
func ValidateFrameCount(n int) error {
	if !slices.Contains(ValidFrameCounts, n) {
		return apperrors.Invalid(apperrors.CAT_FRAME_COUNT, "count must be one of %v", ValidFrameCounts)
	}
	return nil
}

// ParseInstant converts an integer epoch-millisecond value, an RFC 3339 timestamp or
// a YYYY-MM-DD date (UTC midnight) to epoch millis.
func ParseInstant(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, apperrors.Validation("empty date value")
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ms, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UnixMilli(), nil
	}
	if t, err := time.ParseInLocation(dateLayout, raw, time.UTC); err == nil {
		return t.UnixMilli(), nil
	}
	return 0, apperrors.Validation("invalid date %q: expected epoch millis, RFC 3339 or YYYY-MM-DD", raw)
}

// OptionalInstant parses raw when present.
func OptionalInstant(raw string) (*int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	ms, err := ParseInstant(raw)
	if err != nil {
		return nil, err
	}
	return &ms, nil
}

// RequireRange parses a mandatory [start, end] pair.
func RequireRange(start, end string) (int64, int64, error) {
	if strings.TrimSpace(start) == "" || strings.TrimSpace(end) == "" {
		return 0, 0, apperrors.Validation("start and end are required")
	}
	s, err := ParseInstant(start)
	if err != nil {
		return 0, 0, err
	}
	e, err := ParseInstant(end)
	if err != nil {
		return 0, 0, err
	}
	if s > e {
		return 0, 0, apperrors.Validation("start must not be after end")
	}
	return s, e, nil
}

// BBox builds a bound from [west, south, east, north].
func BBox(west, south, east, north float64) orb.Bound {
	return orb.Bound{Min: orb.Point{west, south}, Max: orb.Point{east, north}}
}

// ParseBBox parses "west,south,east,north".
func ParseBBox(raw string) (*orb.Bound, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return nil, apperrors.Validation("bbox must be west,south,east,north")
	}
	v := make([]float64, 4)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, apperrors.Validation("bbox component %q is not a number", p)
		}
		v[i] = f
	}
	return BBoxFromSlice(v)
}

// BBoxFromSlice validates a four element [west, south, east, north] slice.
func BBoxFromSlice(v []float64) (*orb.Bound, error) {
	if len(v) == 0 {
		return nil, nil
	}
	if len(v) != 4 {
		return nil, apperrors.Validation("bbox must have four elements")
	}
	if v[0] > v[2] || v[1] > v[3] {
		return nil, apperrors.Validation("bbox west/south must not exceed east/north")
	}
	b := BBox(v[0], v[1], v[2], v[3])
	return &b, nil
}

// ParsePoint parses a lat/lon pair; both empty means no point filter.
func ParsePoint(lat, lon string) (*orb.Point, error) {
	if lat == "" && lon == "" {
		return nil, nil
	}
	la, err1 := strconv.ParseFloat(lat, 64)
	lo, err2 := strconv.ParseFloat(lon, 64)
	if err1 != nil || err2 != nil {
		return nil, apperrors.Validation("lat and lon must both be numbers")
	}
	pt := orb.Point{lo, la}
	return &pt, nil
}

// ParseList splits a comma-separated parameter, dropping empty entries.
func ParseList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseSort maps "asc"/"desc" to a sort order.
func ParseSort(raw string) storage.SortOrder {
	switch strings.ToLower(raw) {
	case "asc":
		return storage.SortAsc
	case "desc":
		return storage.SortDesc
	default:
		return storage.SortNone
	}
}

// Instant is an epoch-millis value decoded from a JSON number or any string
// accepted by ParseInstant.
type Instant int64

// UnmarshalJSON implements json.Unmarshaler.
func (i *Instant) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	ms, err := ParseInstant(s)
	if err != nil {
		return err
	}
	*i = Instant(ms)
	return nil
}

// Millis returns the value as a pointer, nil for a nil receiver.
func (i *Instant) Millis() *int64 {
	if i == nil {
		return nil
	}
	v := int64(*i)
	return &v
}
