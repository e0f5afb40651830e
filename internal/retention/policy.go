package retention

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AgePolicy is the default retention policy: an artifact expires when its
// age strictly exceeds Days.
type AgePolicy struct {
	Days int
}

// ShouldKeep reports whether an artifact of the given age survives.
// An artifact timestamped exactly at the cutoff is kept; expiry requires the
// timestamp to be strictly before now − Days.
func (p AgePolicy) ShouldKeep(age time.Duration) bool {
	return age <= time.Duration(p.Days)*24*time.Hour
}

// BucketPolicy keeps artifacts falling inside any active recency window:
// the last N hours, days, weeks, or months. A zero bucket is inactive.
type BucketPolicy struct {
	Hours  int
	Days   int
	Weeks  int
	Months int
}

// ParseBucketPolicy parses the string form "<n>h,<n>d,<n>w,<n>m", e.g.
// "24h,7d,4w,6m". Parts may appear in any order; absent parts default to 0.
func ParseBucketPolicy(s string) (BucketPolicy, error) {
	var p BucketPolicy
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		unit := part[len(part)-1]
		n, err := strconv.Atoi(part[:len(part)-1])
		if err != nil || n < 0 {
			return BucketPolicy{}, fmt.Errorf("retention: bad bucket %q", part)
		}
		switch unit {
		case 'h':
			p.Hours = n
		case 'd':
			p.Days = n
		case 'w':
			p.Weeks = n
		case 'm':
			p.Months = n
		default:
			return BucketPolicy{}, fmt.Errorf("retention: bad bucket unit %q", part)
		}
	}
	return p, nil
}

// ShouldKeep reports true iff the age falls within any active bucket window.
// Months are approximated as 30 days.
func (p BucketPolicy) ShouldKeep(age time.Duration) bool {
	windows := []time.Duration{
		time.Duration(p.Hours) * time.Hour,
		time.Duration(p.Days) * 24 * time.Hour,
		time.Duration(p.Weeks) * 7 * 24 * time.Hour,
		time.Duration(p.Months) * 30 * 24 * time.Hour,
	}
	for _, w := range windows {
		if w > 0 && age <= w {
			return true
		}
	}
	return false
}
