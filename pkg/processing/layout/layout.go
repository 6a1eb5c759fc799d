// Package layout resolves the sector boundaries of a track.
package layout

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/samber/lo"

	"github.com/mpapenbr/iracelog-sectortiming/pkg/model"
)

var ErrLayoutUnavailable = errors.New("sector layout unavailable")

// Layout is an immutable, sorted list of sector boundaries.
// The first boundary is always located at the start/finish line (0.0).
type Layout struct {
	boundaries []model.SectorBoundary
	source     string
}

// Source provides a layout.
type Source interface {
	Resolve() (*Layout, error)
}

type (
	// OfficialSource is an explicit declaration of sectors, e.g. from session info.
	OfficialSource []model.SectorBoundary
	// EqualSource divides the lap into the given number of equal sectors.
	EqualSource int
	// ManualSource is a caller supplied list of sector start fractions.
	ManualSource []float64
	// TrackInfoSource reads the sectors of a stored track.
	TrackInfoSource struct{ Track *model.TrackInfo }
	// SessionInfoSource holds the raw iRacing SessionInfo yaml.
	SessionInfoSource []byte
	// FileSource is the path of a track or SessionInfo yaml file.
	FileSource string
)

func (s OfficialSource) Resolve() (*Layout, error)    { return FromOfficial(s) }
func (s EqualSource) Resolve() (*Layout, error)       { return EqualDivision(int(s)) }
func (s ManualSource) Resolve() (*Layout, error)      { return Manual(s) }
func (s TrackInfoSource) Resolve() (*Layout, error)   { return FromTrackInfo(s.Track) }
func (s SessionInfoSource) Resolve() (*Layout, error) { return FromSessionInfo(s) }
func (s FileSource) Resolve() (*Layout, error)        { return LoadFile(string(s)) }

func Resolve(src Source) (*Layout, error) {
	if src == nil {
		return nil, fmt.Errorf("no layout source: %w", ErrLayoutUnavailable)
	}
	return src.Resolve()
}

// FromOfficial validates and normalizes explicitly declared boundaries.
// The boundaries are sorted by their start fraction and renumbered from 0.
func FromOfficial(b []model.SectorBoundary) (*Layout, error) {
	return build(lo.Map(b, func(item model.SectorBoundary, _ int) float64 {
		return item.StartFraction
	}), "official")
}

func FromTrackInfo(ti *model.TrackInfo) (*Layout, error) {
	if ti == nil {
		return nil, fmt.Errorf("no track info: %w", ErrLayoutUnavailable)
	}
	return build(lo.Map(ti.Sectors, func(item model.TrackSector, _ int) float64 {
		return item.SectorStartPct
	}), "track")
}

// EqualDivision creates n sectors of equal length.
func EqualDivision(n int) (*Layout, error) {
	if n < 1 {
		return nil, fmt.Errorf("invalid number of sectors %d: %w", n, ErrLayoutUnavailable)
	}
	fractions := make([]float64, n)
	for i := range n {
		fractions[i] = float64(i) / float64(n)
	}
	return build(fractions, "equal")
}

// Manual is validated the same way as FromOfficial.
func Manual(fractions []float64) (*Layout, error) {
	return build(slices.Clone(fractions), "manual")
}

func build(fractions []float64, source string) (*Layout, error) {
	if len(fractions) == 0 {
		return nil, fmt.Errorf("%s: no boundaries: %w", source, ErrLayoutUnavailable)
	}
	for _, f := range fractions {
		if math.IsNaN(f) || f < 0 || f >= 1 {
			return nil, fmt.Errorf("%s: boundary %v outside [0,1): %w",
				source, f, ErrLayoutUnavailable)
		}
	}
	slices.SortFunc(fractions, cmp.Compare[float64])
	for i := 1; i < len(fractions); i++ {
		if fractions[i] == fractions[i-1] {
			return nil, fmt.Errorf("%s: duplicate boundary %v: %w",
				source, fractions[i], ErrLayoutUnavailable)
		}
	}
	if fractions[0] != 0 {
		fractions = append([]float64{0}, fractions...)
	}
	return &Layout{
		boundaries: lo.Map(fractions, func(f float64, i int) model.SectorBoundary {
			return model.SectorBoundary{SectorIndex: i, StartFraction: f}
		}),
		source: source,
	}, nil
}

func (l *Layout) Len() int {
	return len(l.boundaries)
}

// Source names the kind of source the layout was built from.
func (l *Layout) Source() string {
	return l.source
}

func (l *Layout) Boundaries() []model.SectorBoundary {
	return slices.Clone(l.boundaries)
}

func (l *Layout) Fractions() []float64 {
	return lo.Map(l.boundaries, func(b model.SectorBoundary, _ int) float64 {
		return b.StartFraction
	})
}

// Start returns the start fraction of sector idx.
func (l *Layout) Start(idx int) float64 {
	return l.boundaries[idx].StartFraction
}

// SectorAt returns the index of the sector containing pos.
func (l *Layout) SectorAt(pos float64) int {
	idx, found := slices.BinarySearchFunc(l.boundaries, pos,
		func(b model.SectorBoundary, p float64) int {
			return cmp.Compare(b.StartFraction, p)
		})
	if found {
		return idx
	}
	return max(idx-1, 0)
}

func (l *Layout) Equal(other *Layout) bool {
	if other == nil {
		return false
	}
	return slices.Equal(l.boundaries, other.boundaries)
}
