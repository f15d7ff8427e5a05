package replication

import (
	"fmt"
	"strings"
)

// Source is a replication feed
type Source struct {
	Name    string
	BaseURL string
}

// StateURL is the URL of the feed's latest state
func (s Source) StateURL() string {
	return s.BaseURL + "/state.txt"
}

// SequenceStateURL is the URL of the state written with seq
func (s Source) SequenceStateURL(seq int64) string {
	return fmt.Sprintf("%s/%s.state.txt", s.BaseURL, SequencePath(seq))
}

// DiffURL is the URL of the change file for seq
func (s Source) DiffURL(seq int64) string {
	return fmt.Sprintf("%s/%s.osc.gz", s.BaseURL, SequencePath(seq))
}

const planetBase = "https://planet.openstreetmap.org/replication/"

// ParseSource resolves a feed name. Accepted forms are minute, hour and day
// (optionally prefixed with planet-), geofabrik/<region path>, or an
// http(s) URL.
func ParseSource(s string) (Source, error) {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)

	switch strings.TrimPrefix(lower, "planet-") {
	case "minute", "hour", "day":
		period := strings.TrimPrefix(lower, "planet-")
		return Source{Name: "planet-" + period, BaseURL: planetBase + period}, nil
	}

	if region, ok := strings.CutPrefix(lower, "geofabrik/"); ok && region != "" {
		return Source{
			Name:    "geofabrik/" + region,
			BaseURL: fmt.Sprintf("https://download.geofabrik.de/%s-updates", region),
		}, nil
	}

	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return Source{Name: "custom", BaseURL: strings.TrimSuffix(s, "/")}, nil
	}
	return Source{}, fmt.Errorf("unknown replication source: %s", s)
}
