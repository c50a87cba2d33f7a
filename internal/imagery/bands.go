// Package imagery builds requests for remote-sensing backends: band-math
// expressions and tile URLs for a COG tile server, and Statistical/Process API
// bodies for Sentinel Hub. Nothing in this package performs I/O except
// SettleAll, which only runs the tasks it is given.
package imagery

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"fieldwatch/internal/types"
)

// Band is a semantic band name.
type Band string

const (
	BandBlue    Band = "blue"
	BandGreen   Band = "green"
	BandRed     Band = "red"
	BandRedEdge Band = "red_edge"
	BandNIR     Band = "nir"
	BandSWIR    Band = "swir"
)

// BandMap assigns each semantic band its 1-based index in a multi-band
// raster for one sensor configuration.
type BandMap map[Band]int

// Number returns the band number, or an error naming the missing band.
func (m BandMap) Number(b Band) (int, error) {
	n, ok := m[b]
	if !ok || n <= 0 {
		return 0, types.NewAppError(types.ErrCodeValidationInvalidProfile,
			fmt.Sprintf("band map has no %s band", b), nil)
	}
	return n, nil
}

// Sentinel2 profile name, used for Sentinel Hub evalscripts.
const ProfileSentinel2 = "sentinel2_l2a"

// DefaultSensorProfiles covers the sensors seen in practice. Deployments
// override or extend them through BAND_MAPS_JSON.
func DefaultSensorProfiles() SensorProfiles {
	return SensorProfiles{
		ProfileSentinel2: {BandBlue: 2, BandGreen: 3, BandRed: 4, BandRedEdge: 5, BandNIR: 8, BandSWIR: 11},
		"landsat8_c2l2":  {BandBlue: 2, BandGreen: 3, BandRed: 4, BandNIR: 5, BandSWIR: 6},
		"planetscope_4b": {BandBlue: 1, BandGreen: 2, BandRed: 3, BandNIR: 4},
		"drone_5b":       {BandBlue: 1, BandGreen: 2, BandRed: 3, BandRedEdge: 4, BandNIR: 5},
		"drone_rgn":      {BandRed: 1, BandGreen: 2, BandNIR: 3},
	}
}

// SensorProfiles is the registry of band maps keyed by profile name.
type SensorProfiles map[string]BandMap

// ParseSensorProfiles decodes a JSON object of profile name to band map and
// layers it over the defaults. An empty string yields the defaults.
func ParseSensorProfiles(raw string) (SensorProfiles, error) {
	profiles := DefaultSensorProfiles()
	if strings.TrimSpace(raw) == "" {
		return profiles, nil
	}

	var overrides map[string]map[string]int
	if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
		return nil, fmt.Errorf("parsing band maps: %w", err)
	}

	for name, bands := range overrides {
		bm := make(BandMap, len(bands))
		for band, n := range bands {
			if n <= 0 {
				return nil, fmt.Errorf("profile %s: band %s must be a positive band number, got %d", name, band, n)
			}
			bm[Band(strings.ToLower(band))] = n
		}
		profiles[strings.ToLower(name)] = bm
	}
	return profiles, nil
}

// Resolve returns the band map for a profile name.
func (p SensorProfiles) Resolve(profile string) (BandMap, error) {
	bm, ok := p[strings.ToLower(strings.TrimSpace(profile))]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidProfile,
			fmt.Sprintf("unknown sensor profile %q", profile), nil).
			WithDetails(map[string]any{"available": p.Names()})
	}
	return bm, nil
}

// Names returns the profile names sorted.
func (p SensorProfiles) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
