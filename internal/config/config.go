// Package config loads and validates the static per-channel JSON
// configuration the pipeline needs at startup: RTSP endpoints and
// credentials, per-channel zone layouts, feature toggles and detector
// thresholds.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ZoneConfig mirrors the Zone data model exactly, with JSON tags for the
// on-disk schema.
type ZoneConfig struct {
	ZoneID         string        `json:"zone_id"`
	Name           string        `json:"name"`
	Type           string        `json:"type"`
	CoordinateType string        `json:"coordinate_type"`
	Points         []PointConfig `json:"points,omitempty"`
	Start          *PointConfig  `json:"start,omitempty"`
	End            *PointConfig  `json:"end,omitempty"`
	Side           string        `json:"side,omitempty"`
	Direction      string        `json:"direction,omitempty"`
	EnterThreshold int           `json:"enter_threshold"`
	ExitThreshold  int           `json:"exit_threshold"`
	Active         bool          `json:"active"`
}

// PointConfig is a single (x,y) coordinate, absolute pixels or percentage
// depending on the owning zone's CoordinateType.
type PointConfig struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// FeatureToggles gates optional pipeline stages per channel.
type FeatureToggles struct {
	ReID        bool `json:"reid"`
	Counter     bool `json:"counter"`
	StaffFilter bool `json:"staff_filter"`
}

// Thresholds holds the detector/tracker/classifier numeric defaults a
// channel can override.
type Thresholds struct {
	DetectionConfidenceFloor float64 `json:"detection_confidence_floor"`
	StaffVoteThreshold       float64 `json:"staff_vote_threshold"`
	StaffVoteWindow          int     `json:"staff_vote_window"`
	IdentitySimilarity       float64 `json:"identity_similarity_threshold"`
}

// ChannelConfig is one RTSP camera's full configuration.
type ChannelConfig struct {
	ChannelID  int             `json:"channel_id"`
	Name       string          `json:"name"`
	RTSPURL    string          `json:"rtsp_url"`
	Username   string          `json:"username,omitempty"`
	Password   string          `json:"password,omitempty"`
	Zones      []ZoneConfig    `json:"zones"`
	Features   FeatureToggles  `json:"features"`
	Thresholds Thresholds      `json:"thresholds"`
}

// Config is the full static configuration: every channel plus the shared
// backing-store connection strings.
type Config struct {
	KVAddr       string          `json:"kv_addr"`
	KVPassword   string          `json:"kv_password,omitempty"`
	KVDB         int             `json:"kv_db"`
	PostgresDSN  string          `json:"postgres_dsn"`
	NATSURL      string          `json:"nats_url,omitempty"`
	NATSSubject  string          `json:"nats_subject,omitempty"`
	Timezone     string          `json:"timezone,omitempty"`
	Channels     []ChannelConfig `json:"channels"`

	loc *time.Location
}

// Location returns the IANA location named by Timezone, defaulting to UTC
// when Timezone is empty. Parse already validated that the name resolves.
func (c *Config) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

func defaultThresholds(t Thresholds) Thresholds {
	if t.DetectionConfidenceFloor == 0 {
		t.DetectionConfidenceFloor = 0.5
	}
	if t.StaffVoteThreshold == 0 {
		t.StaffVoteThreshold = 4.0
	}
	if t.StaffVoteWindow == 0 {
		t.StaffVoteWindow = 10
	}
	if t.IdentitySimilarity == 0 {
		t.IdentitySimilarity = 0.75
	}
	return t
}

func defaultZoneThresholds(z ZoneConfig) ZoneConfig {
	if z.EnterThreshold == 0 {
		z.EnterThreshold = 1
	}
	if z.ExitThreshold == 0 {
		z.ExitThreshold = 1
	}
	if z.CoordinateType == "" {
		z.CoordinateType = "absolute"
	}
	return z
}

// Load reads, parses and validates a JSON configuration file. A
// configuration error here is always fatal at startup, per the error
// handling design; it is never retried or degraded.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse parses and validates raw JSON bytes. Required top-level fields are
// checked first; channel and zone threshold defaults are applied as each
// channel and zone passes its own validation.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	if cfg.KVAddr == "" {
		return nil, fmt.Errorf("config: kv_addr is required")
	}
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("config: postgres_dsn is required")
	}
	if len(cfg.Channels) == 0 {
		return nil, fmt.Errorf("config: at least one channel is required")
	}

	if cfg.Timezone == "" {
		cfg.loc = time.UTC
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("config: timezone %q: %w", cfg.Timezone, err)
		}
		cfg.loc = loc
	}

	seenChannels := map[int]bool{}
	for i := range cfg.Channels {
		ch := &cfg.Channels[i]
		if ch.RTSPURL == "" {
			return nil, fmt.Errorf("config: channel %d: rtsp_url is required", ch.ChannelID)
		}
		if seenChannels[ch.ChannelID] {
			return nil, fmt.Errorf("config: duplicate channel_id %d", ch.ChannelID)
		}
		seenChannels[ch.ChannelID] = true

		ch.Thresholds = defaultThresholds(ch.Thresholds)

		seenZones := map[string]bool{}
		for j := range ch.Zones {
			z := &ch.Zones[j]
			if z.ZoneID == "" {
				return nil, fmt.Errorf("config: channel %d: zone at index %d missing zone_id", ch.ChannelID, j)
			}
			if seenZones[z.ZoneID] {
				return nil, fmt.Errorf("config: channel %d: duplicate zone_id %s", ch.ChannelID, z.ZoneID)
			}
			seenZones[z.ZoneID] = true

			switch z.Type {
			case "polygon":
				if len(z.Points) < 3 {
					return nil, fmt.Errorf("config: channel %d: zone %s: polygon needs at least 3 points", ch.ChannelID, z.ZoneID)
				}
			case "line":
				if z.Start == nil || z.End == nil {
					return nil, fmt.Errorf("config: channel %d: zone %s: line needs start and end", ch.ChannelID, z.ZoneID)
				}
			default:
				return nil, fmt.Errorf("config: channel %d: zone %s: unknown zone type %q", ch.ChannelID, z.ZoneID, z.Type)
			}

			*z = defaultZoneThresholds(*z)
		}
	}

	return &cfg, nil
}
