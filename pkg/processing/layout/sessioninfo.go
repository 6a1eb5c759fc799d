package layout

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mpapenbr/iracelog-sectortiming/pkg/model"
)

// telemetry dump lines (name, many blanks, value) follow the yaml part
const telemetryLineBlanks = 20

type sessionInfo struct {
	SplitTimeInfo *struct {
		Sectors []struct {
			SectorNum      int     `yaml:"SectorNum"`
			SectorStartPct float64 `yaml:"SectorStartPct"`
		} `yaml:"Sectors"`
	} `yaml:"SplitTimeInfo"`
}

type trackFile struct {
	Sectors []model.TrackSector `yaml:"sectors"`
}

// FromSessionInfo reads the sector definitions from the SplitTimeInfo section
// of a raw iRacing SessionInfo string.
func FromSessionInfo(raw []byte) (*Layout, error) {
	var si sessionInfo
	if err := yaml.Unmarshal(extractYAML(raw), &si); err != nil {
		return nil, fmt.Errorf("session info: %w: %w", ErrLayoutUnavailable, err)
	}
	if si.SplitTimeInfo == nil || len(si.SplitTimeInfo.Sectors) == 0 {
		return nil, fmt.Errorf("session info: no SplitTimeInfo sectors: %w",
			ErrLayoutUnavailable)
	}
	b := make([]model.SectorBoundary, 0, len(si.SplitTimeInfo.Sectors))
	for _, s := range si.SplitTimeInfo.Sectors {
		b = append(b, model.SectorBoundary{
			SectorIndex:   s.SectorNum,
			StartFraction: s.SectorStartPct,
		})
	}
	l, err := FromOfficial(b)
	if err != nil {
		return nil, err
	}
	l.source = "sessioninfo"
	return l, nil
}

// extractYAML cuts off the telemetry lines which may be appended to the
// session info.
func extractYAML(raw []byte) []byte {
	lines := bytes.Split(raw, []byte("\n"))
	blanks := bytes.Repeat([]byte(" "), telemetryLineBlanks)
	for i, line := range lines {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if bytes.Contains(line, blanks) && bytes.Count(line, []byte(" ")) > telemetryLineBlanks {
			return bytes.Join(lines[:i], []byte("\n"))
		}
	}
	return raw
}

// Parse detects the format of a layout file. Supported are iRacing SessionInfo
// yaml and track files with a top level "sectors" list.
func Parse(data []byte) (*Layout, error) {
	if bytes.Contains(data, []byte("SplitTimeInfo")) {
		return FromSessionInfo(data)
	}
	var tf trackFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("layout file: %w: %w", ErrLayoutUnavailable, err)
	}
	return FromTrackInfo(&model.TrackInfo{Sectors: tf.Sectors})
}

func LoadFile(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %w", path, ErrLayoutUnavailable, err)
	}
	return Parse(data)
}
