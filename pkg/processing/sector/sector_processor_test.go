//nolint:funlen,dupl // ok for tests
package sector

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/iracelog-sectortiming/log"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/model"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/processing/layout"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/processing/validation"
	"github.com/mpapenbr/iracelog-sectortiming/testsupport/telemetry"
)

func mustLayout(t *testing.T, fractions ...float64) *layout.Layout {
	t.Helper()
	l, err := layout.Manual(fractions)
	require.NoError(t, err)
	return l
}

func newProc(t *testing.T, l *layout.Layout, opts ...Option) *SectorProcessor {
	t.Helper()
	return NewSectorProcessor(
		append([]Option{WithLayout(l), WithLogger(log.Nop())}, opts...)...)
}

func s(pos, t float64, lap int) model.TelemetrySample {
	return model.TelemetrySample{TrackPosition: pos, Time: t, LapNumber: lap}
}

// lapSamples returns n samples of a lap driven at constant speed.
func lapSamples(start, lapTime float64, lap, n int) []model.TelemetrySample {
	ret := make([]model.TelemetrySample, 0, n)
	for i := range n {
		ret = append(ret, s(float64(i)/float64(n), start+float64(i)/float64(n)*lapTime, lap))
	}
	return ret
}

func feed(p *SectorProcessor, samples []model.TelemetrySample) []*model.LapRecord {
	ret := []*model.LapRecord{}
	for _, item := range samples {
		if lap := p.Process(item); lap != nil {
			ret = append(ret, lap)
		}
	}
	return ret
}

func TestEndToEndSingleLap(t *testing.T) {
	l, err := layout.EqualDivision(4)
	require.NoError(t, err)
	p := newProc(t, l)
	laps := feed(p, telemetry.New(60, 10).Laps(1))

	require.Len(t, laps, 1)
	lap := laps[0]
	assert.True(t, lap.IsComplete)
	assert.True(t, lap.IsValid)
	assert.False(t, lap.IsOutLap)
	assert.Equal(t, 1, lap.LapNumber)
	require.Len(t, lap.SectorDurations, 4)
	for i, d := range lap.SectorDurations {
		assert.Greater(t, d, 0.0, "sector %d", i)
		assert.InDelta(t, 2.5, d, 1.0/60, "sector %d", i)
	}
	assert.InDelta(t, 10.0, lap.TotalDuration, 0.1)

	v := validation.NewLapValidator(validation.WithValidatorLogger(log.Nop()))
	res := v.Validate(lap.LapNumber, lap.SectorDurations, 10.0)
	assert.True(t, res.IsValid)
	assert.Less(t, res.DiscrepancySeconds, 0.5)

	pr := p.Progress()
	assert.Equal(t, 2, pr.LapNumber)
	assert.Equal(t, 0, pr.CurrentSectorIndex)
	assert.Equal(t, 1, pr.CurrentSector)
	require.NotNil(t, pr.BestLapTime)
	assert.InDelta(t, lap.TotalDuration, *pr.BestLapTime, 1e-9)
}

func TestBoundaryCoverage(t *testing.T) {
	l := mustLayout(t, 0, 0.1, 0.23, 0.4, 0.55, 0.8, 0.93)
	p := newProc(t, l)
	g := telemetry.New(23, 87.3)
	laps := feed(p, g.Laps(5))

	require.Len(t, laps, 5)
	for _, lap := range laps {
		require.True(t, lap.IsComplete, "lap %d", lap.LapNumber)
		assert.Len(t, lap.SectorDurations, l.Len())
		sum := 0.0
		for _, d := range lap.SectorDurations {
			sum += d
		}
		assert.InDelta(t, sum, lap.TotalDuration, 1e-6)
		assert.InDelta(t, 87.3, lap.TotalDuration, 1.0/23)
		for i, st := range lap.Sectors {
			assert.Equal(t, i, st.SectorIndex)
			assert.Equal(t, lap.LapNumber, st.LapNumber)
		}
	}
}

func TestWrapAroundInterpolation(t *testing.T) {
	for _, rearmAtFrame := range []bool{true, false} {
		p := newProc(t, mustLayout(t, 0), WithRearmAtFrameTime(rearmAtFrame))
		laps := feed(p, []model.TelemetrySample{
			s(0.0, 0.0, 1),
			s(0.5, 5.0, 1),
			s(0.95, 10.0, 1),
			s(0.05, 10.2, 2),
		})
		require.Len(t, laps, 1)
		lap := laps[0]
		assert.Greater(t, lap.FinishCrossingTime, 10.0)
		assert.Less(t, lap.FinishCrossingTime, 10.2)
		assert.InDelta(t, 10.1, lap.FinishCrossingTime, 1e-9)
		if rearmAtFrame {
			assert.InDelta(t, 10.2, lap.EndTime, 1e-9)
		} else {
			assert.InDelta(t, 10.1, lap.EndTime, 1e-9)
			assert.InDelta(t, 10.1, lap.TotalDuration, 1e-9)
		}
	}
}

func TestMultipleBoundariesInOneFrame(t *testing.T) {
	p := newProc(t, mustLayout(t, 0, 0.25, 0.5, 0.75))
	assert.Empty(t, feed(p, []model.TelemetrySample{
		s(0.0, 0.0, 1),
		s(0.1, 1.0, 1),
		s(0.6, 2.0, 1),
	}))
	pr := p.Progress()
	assert.Equal(t, 2, pr.CurrentSectorIndex)
	assert.Equal(t, 2, pr.CompletedSectorCount)
	if diff := cmp.Diff([]float64{1.3, 0.5}, pr.CurrentLapSplits,
		cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("splits mismatch (-want +got):\n%s", diff)
	}
	assert.InDelta(t, 0.2, pr.ElapsedInSector, 1e-9)
}

func TestBoundariesAroundFinishLine(t *testing.T) {
	t.Run("before the line", func(t *testing.T) {
		p := newProc(t, mustLayout(t, 0, 0.5, 0.97), WithRearmAtFrameTime(false))
		laps := feed(p, []model.TelemetrySample{
			s(0.0, 0.0, 1),
			s(0.45, 4.5, 1),
			s(0.55, 5.5, 1),
			s(0.95, 9.5, 1),
			s(0.03, 10.3, 2),
		})
		require.Len(t, laps, 1)
		if diff := cmp.Diff([]float64{5.0, 4.7, 0.3}, laps[0].SectorDurations,
			cmpopts.EquateApprox(0, 1e-9)); diff != "" {
			t.Errorf("durations mismatch (-want +got):\n%s", diff)
		}
		assert.True(t, laps[0].IsComplete)
		assert.InDelta(t, 10.0, laps[0].TotalDuration, 1e-9)
	})
	t.Run("after the line", func(t *testing.T) {
		p := newProc(t, mustLayout(t, 0, 0.02, 0.5), WithRearmAtFrameTime(false))
		laps := feed(p, []model.TelemetrySample{
			s(0.0, 0.0, 1),
			s(0.3, 3.0, 1),
			s(0.6, 6.0, 1),
			s(0.95, 9.5, 1),
			s(0.05, 10.0, 2),
		})
		require.Len(t, laps, 1)
		assert.True(t, laps[0].IsComplete)
		assert.InDelta(t, 9.75, laps[0].TotalDuration, 1e-9)
		pr := p.Progress()
		assert.Equal(t, 2, pr.LapNumber)
		assert.Equal(t, 1, pr.CurrentSectorIndex)
		if diff := cmp.Diff([]float64{0.1}, pr.CurrentLapSplits,
			cmpopts.EquateApprox(0, 1e-9)); diff != "" {
			t.Errorf("splits mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestBestTimesMonotonic(t *testing.T) {
	p := newProc(t, mustLayout(t, 0, 0.5))
	lapTimes := []float64{12, 11, 11.5, 10.5, 13, 10.5}
	start := 0.0
	minSector := math.Inf(1)
	minLap := math.Inf(1)
	var lastBest *float64
	for i, lt := range lapTimes {
		feed(p, lapSamples(start, lt, i+1, 100))
		start += lt
		// the start/finish line passing closes the lap
		lap := p.Process(s(0, start, i+2))
		require.NotNil(t, lap)
		require.True(t, lap.IsValid)
		minSector = math.Min(minSector, lap.SectorDurations[0])
		minLap = math.Min(minLap, lap.TotalDuration)

		best := p.BestSectorTimes()[0]
		require.NotNil(t, best)
		assert.InDelta(t, minSector, *best, 1e-9)
		if lastBest != nil {
			assert.LessOrEqual(t, *best, *lastBest)
		}
		lastBest = best
		assert.InDelta(t, minLap, *p.BestLapTime(), 1e-9)
	}
	assert.InDelta(t, 5.25, *lastBest, 1e-9)

	tb, ok := p.TheoreticalBest()
	assert.True(t, ok)
	assert.InDelta(t, 10.5, tb, 1e-9)
}

func TestResetDiscardsNeverEmits(t *testing.T) {
	p := newProc(t, mustLayout(t, 0, 0.5))
	feed(p, lapSamples(0, 10, 3, 100))
	require.NotNil(t, p.Process(s(0.0, 10, 4)))
	feed(p, lapSamples(10, 10, 4, 80)[1:])
	assert.Equal(t, 1, p.Progress().CompletedSectorCount)
	bestLap := p.BestLapTime()

	assert.Nil(t, p.Process(s(0.82, 18.3, 1)))
	pr := p.Progress()
	assert.Equal(t, 1, pr.LapNumber)
	assert.Equal(t, 0, pr.CompletedSectorCount)
	assert.Equal(t, 1, pr.CurrentSectorIndex)
	require.NotNil(t, pr.BestLapTime)
	assert.InDelta(t, *bestLap, *pr.BestLapTime, 1e-9)
	assert.Equal(t, 1, p.Stats().Resets)

	// reset position wrapping as well must not emit
	p2 := newProc(t, mustLayout(t, 0, 0.5))
	feed(p2, lapSamples(0, 10, 5, 95))
	assert.Nil(t, p2.Process(s(0.01, 10.0, 1)))
}

func TestNoDelayRearm(t *testing.T) {
	p := newProc(t, mustLayout(t, 0, 0.25, 0.5, 0.75))
	feed(p, lapSamples(0, 10, 1, 50))
	lap := p.Process(s(0.0, 10.0, 2))
	require.NotNil(t, lap)
	assert.InDelta(t, 10.0, lap.EndTime, 1e-12)

	// frame k+1
	assert.Nil(t, p.Process(s(0.02, 10.2, 2)))
	pr := p.Progress()
	assert.Equal(t, 0, pr.CurrentSectorIndex)
	assert.InDelta(t, 0.2, pr.ElapsedInSector, 1e-9)

	feed(p, lapSamples(10, 10, 2, 50)[2:])
	next := p.Process(s(0.0, 20.0, 3))
	require.NotNil(t, next)
	assert.InDelta(t, lap.EndTime, next.StartTime, 1e-12)
	assert.True(t, next.IsComplete)
	assert.InDelta(t, 10.0, next.TotalDuration, 1e-9)
	assert.InDelta(t, 2.5, next.SectorDurations[0], 1e-9)
}

func TestIgnoresUnusableSamples(t *testing.T) {
	p := newProc(t, mustLayout(t, 0, 0.5))
	feed(p, []model.TelemetrySample{s(0, 0, 1), s(0.2, 2, 1)})
	assert.Nil(t, p.Process(s(math.NaN(), 3, 1)))
	assert.Nil(t, p.Process(s(0.3, math.Inf(1), 1)))
	assert.Nil(t, p.Process(s(1.3, 3, 1)))
	assert.Nil(t, p.Process(s(0.6, 6, 1)))
	pr := p.Progress()
	assert.Equal(t, 1, pr.CurrentSectorIndex)
	assert.InDelta(t, 5.0, pr.CurrentLapSplits[0], 1e-9)
	assert.Nil(t, pr.BestLapTime)
	assert.Equal(t, 3, p.Stats().IgnoredSamples)
}

func TestLapIncreaseWithoutWrap(t *testing.T) {
	p := newProc(t, mustLayout(t, 0, 0.5))
	lap := feed(p, []model.TelemetrySample{
		s(0.0, 0.0, 1),
		s(0.3, 3.0, 1),
		s(0.6, 6.0, 2),
	})
	require.Len(t, lap, 1)
	assert.False(t, lap[0].IsComplete)
	assert.False(t, lap[0].IsValid)
	assert.Equal(t, 1, lap[0].LapNumber)
	if diff := cmp.Diff([]float64{5.0}, lap[0].SectorDurations,
		cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("durations mismatch (-want +got):\n%s", diff)
	}
	pr := p.Progress()
	assert.Equal(t, 2, pr.LapNumber)
	assert.Equal(t, 1, pr.CurrentSectorIndex)
	assert.Equal(t, 0, pr.CompletedSectorCount)
	assert.Equal(t, 1, p.Stats().AbortedLaps)

	// partial sector is not timed, the lap is an out lap
	next := feed(p, []model.TelemetrySample{s(0.95, 9.5, 2), s(0.05, 10.5, 3)})
	assert.Empty(t, next)
	assert.Equal(t, 3, p.Progress().LapNumber)
}

func TestLapCounterAheadOfPosition(t *testing.T) {
	p := newProc(t, mustLayout(t, 0, 0.5))
	laps := feed(p, []model.TelemetrySample{
		s(0.0, 0.0, 1),
		s(0.5, 5.0, 1),
		s(0.95, 9.5, 2),
		s(0.05, 10.5, 2),
	})
	require.Len(t, laps, 1)
	assert.True(t, laps[0].IsComplete)
	assert.Equal(t, 1, laps[0].LapNumber)
	assert.Equal(t, 2, p.Progress().LapNumber)
}

func TestLapCounterBehindPosition(t *testing.T) {
	p := newProc(t, mustLayout(t, 0, 0.5))
	laps := feed(p, []model.TelemetrySample{
		s(0.0, 0.0, 1),
		s(0.5, 5.0, 1),
		s(0.95, 9.5, 1),
		s(0.05, 10.5, 1),
		s(0.1, 11.0, 2),
	})
	require.Len(t, laps, 1)
	assert.Equal(t, 1, laps[0].LapNumber)
	assert.Equal(t, 2, p.Progress().LapNumber)
	assert.Equal(t, 0, p.Stats().AbortedLaps)
}

func TestLapCounterLagsPastBoundary(t *testing.T) {
	p := newProc(t, mustLayout(t, 0, 0.1, 0.5))
	laps := feed(p, []model.TelemetrySample{
		s(0.0, 0.0, 1),
		s(0.3, 3.0, 1),
		s(0.6, 6.0, 1),
		s(0.95, 9.5, 1),
		s(0.05, 10.5, 1),
		s(0.15, 11.5, 1),
		// counter catches up after the first boundary of lap 2
		s(0.2, 12.0, 2),
		s(0.6, 16.0, 2),
		s(0.95, 19.5, 2),
		s(0.05, 20.5, 2),
	})
	require.Len(t, laps, 2)
	assert.Equal(t, 1, laps[0].LapNumber)
	assert.True(t, laps[0].IsComplete)

	lap2 := laps[1]
	assert.Equal(t, 2, lap2.LapNumber)
	assert.True(t, lap2.IsComplete)
	assert.True(t, lap2.IsValid)
	assert.False(t, lap2.IsOutLap)
	if diff := cmp.Diff([]float64{0.5, 4.0, 5.5}, lap2.SectorDurations,
		cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("sector durations mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 0, p.Stats().AbortedLaps)
	assert.Equal(t, 3, p.Progress().LapNumber)
}

func TestOutLap(t *testing.T) {
	p := newProc(t, mustLayout(t, 0, 0.25, 0.5, 0.75))
	g := telemetry.New(20, 40)
	g.StartPos = 0.4
	laps := feed(p, g.Laps(2))
	require.Len(t, laps, 2)

	out := laps[0]
	assert.True(t, out.IsOutLap)
	assert.False(t, out.IsComplete)
	assert.False(t, out.IsValid)
	// sector 1 was entered mid way and is not timed
	assert.Len(t, out.SectorDurations, 2)
	assert.Equal(t, 2, out.Sectors[0].SectorIndex)

	full := laps[1]
	assert.True(t, full.IsComplete)
	assert.True(t, full.IsValid)
	assert.False(t, full.IsOutLap)
	assert.InDelta(t, 40.0, *p.BestLapTime(), 0.05)
	for _, b := range p.BestSectorTimes() {
		require.NotNil(t, b)
		assert.InDelta(t, 10.0, *b, 0.05)
	}
}

func TestOffTrackInvalidatesLap(t *testing.T) {
	p := newProc(t, mustLayout(t, 0, 0.5))
	samples := lapSamples(0, 10, 1, 100)
	samples[30].OffTrack = true
	feed(p, samples)
	lap := p.Process(s(0, 10, 2))
	require.NotNil(t, lap)
	assert.True(t, lap.IsComplete)
	assert.False(t, lap.IsValid)
	assert.True(t, lap.IsOutLap)
	assert.Nil(t, p.BestLapTime())
	assert.Nil(t, p.BestSectorTimes()[0])
}

func TestImplausibleDuration(t *testing.T) {
	p := newProc(t, mustLayout(t, 0, 0.5), WithMaxSectorDuration(100))
	laps := feed(p, []model.TelemetrySample{
		s(0.0, 0.0, 1),
		s(0.2, 2.0, 1),
		s(0.2, 300.0, 1),
		s(0.6, 304.0, 1),
		s(0.95, 307.5, 1),
		s(0.05, 308.5, 2),
	})
	require.Len(t, laps, 1)
	lap := laps[0]
	assert.True(t, lap.IsComplete)
	assert.False(t, lap.IsValid)
	require.Len(t, lap.Sectors, 2)
	assert.InDelta(t, 303.0, lap.Sectors[0].Duration, 1e-9)
	assert.Equal(t, []string{"duration exceeds 100s: 303.000s"}, lap.Sectors[0].Notes)
	assert.Nil(t, p.BestSectorTimes()[0])
	require.NotNil(t, p.BestSectorTimes()[1])
	assert.InDelta(t, 5.5, *p.BestSectorTimes()[1], 1e-9)
}

func TestSetLayout(t *testing.T) {
	p := newProc(t, mustLayout(t, 0, 0.5))
	feed(p, lapSamples(0, 10, 1, 100))
	require.NotNil(t, p.Process(s(0, 10, 2)))
	feed(p, lapSamples(10, 10, 2, 100)[1:30])

	p.SetLayout(mustLayout(t, 0, 0.25, 0.5, 0.75))
	pr := p.Progress()
	assert.Equal(t, 4, pr.TotalSectors)
	assert.Equal(t, []*float64{nil, nil, nil, nil}, pr.BestSectorTimes)
	require.NotNil(t, pr.BestLapTime)
	assert.InDelta(t, 10.0, *pr.BestLapTime, 1e-9)
	// restarted mid lap
	assert.Equal(t, 1, pr.CurrentSectorIndex)
	assert.Equal(t, 0, pr.CompletedSectorCount)

	// same layout again is a no-op
	p.SetLayout(mustLayout(t, 0, 0.25, 0.5, 0.75))
	assert.Equal(t, 1, p.Progress().CurrentSectorIndex)
}

func TestCompareAndRecentLaps(t *testing.T) {
	p := newProc(t, mustLayout(t, 0, 0.5))
	start := 0.0
	var laps []*model.LapRecord
	for i, lt := range []float64{10, 12, 9} {
		feed(p, lapSamples(start, lt, i+1, 100))
		start += lt
		lap := p.Process(s(0, start, i+2))
		require.NotNil(t, lap)
		laps = append(laps, lap)
	}
	cmpSlow := p.Compare(laps[1])
	require.Len(t, cmpSlow.Sectors, 2)
	assert.InDelta(t, 1.5, cmpSlow.Sectors[0].Delta, 1e-9)
	assert.InDelta(t, 3.0, cmpSlow.TotalDelta, 1e-9)
	assert.False(t, cmpSlow.IsTheoreticalBest)

	cmpBest := p.Compare(laps[2])
	assert.True(t, cmpBest.IsTheoreticalBest)
	assert.True(t, cmpBest.Sectors[1].IsPersonalBest)

	recent := p.RecentLaps(2)
	require.Len(t, recent, 2)
	assert.Equal(t, 2, recent[0].LapNumber)
	assert.Equal(t, 3, recent[1].LapNumber)
	assert.Len(t, p.RecentLaps(10), 3)
}

type recordingScorer struct {
	scored   []int
	observed []int
}

func (r *recordingScorer) Score(_, _ model.TelemetrySample, idx int, _ float64) float64 {
	r.scored = append(r.scored, idx)
	return 0.5
}

func (r *recordingScorer) Observe(idx int, _ float64) {
	r.observed = append(r.observed, idx)
}

func TestCrossingScorer(t *testing.T) {
	rs := &recordingScorer{}
	p := newProc(t, mustLayout(t, 0, 0.5), WithCrossingScorer(rs))
	laps := feed(p, []model.TelemetrySample{
		s(0.0, 0.0, 1),
		s(0.5, 5.0, 1),
		s(0.5, 5.0, 1),
		s(0.95, 9.5, 1),
		s(0.05, 10.5, 2),
	})
	require.Len(t, laps, 1)
	assert.Equal(t, []int{1, 0}, rs.scored)
	assert.Equal(t, []int{1, 0}, rs.observed)
	for _, st := range laps[0].Sectors {
		assert.InDelta(t, 0.5, st.Confidence, 1e-9)
	}
	c := p.Crossings()
	require.Len(t, c, 2)
	assert.Equal(t, model.CrossingInterpolated, c[0].Method)
	assert.Equal(t, 0, c[1].SectorIndex)
}

func TestDirectCrossing(t *testing.T) {
	p := newProc(t, mustLayout(t, 0, 0.5),
		WithCrossingScorer(validation.NewConfidenceScorer()))
	// position reported as 1.0 directly followed by 0.0: no movement to interpolate
	laps := feed(p, []model.TelemetrySample{
		s(0.0, 0.0, 1),
		s(0.5, 5.0, 1),
		s(1.0, 10.0, 1),
		s(0.0, 10.0, 2),
	})
	require.Len(t, laps, 1)
	assert.InDelta(t, 10.0, laps[0].FinishCrossingTime, 1e-9)
	assert.InDelta(t, 10.0, laps[0].TotalDuration, 1e-9)
	c := p.Crossings()
	require.Len(t, c, 2)
	assert.Equal(t, model.CrossingInterpolated, c[0].Method)
	assert.Equal(t, model.CrossingDirect, c[1].Method)
	for _, item := range c {
		assert.GreaterOrEqual(t, item.Confidence, 0.0)
		assert.LessOrEqual(t, item.Confidence, 1.0)
	}
}

func TestHistoriesBounded(t *testing.T) {
	p := newProc(t, mustLayout(t, 0, 0.25, 0.5, 0.75))
	laps := feed(p, telemetry.New(10, 20).Laps(40))
	assert.Len(t, laps, 40)
	assert.Len(t, p.RecentLaps(1000), 20)
	assert.Len(t, p.Crossings(), 100)
	assert.Len(t, p.SectorHistory(), 50)
	assert.Equal(t, 160, p.Stats().Crossings)
}

func TestReset(t *testing.T) {
	p := newProc(t, mustLayout(t, 0, 0.5))
	feed(p, telemetry.New(10, 20).Laps(2))
	require.NotNil(t, p.BestLapTime())
	p.Reset()
	assert.Equal(t, StateUninitialized, p.State())
	assert.False(t, p.Progress().Initialized)
	assert.Nil(t, p.BestLapTime())
	_, ok := p.TheoreticalBest()
	assert.False(t, ok)
	assert.Nil(t, p.Process(s(0.3, 1, 1)))
	assert.Equal(t, StateActive, p.State())
}

func TestDefaultLayoutSingleSector(t *testing.T) {
	p := NewSectorProcessor(WithLogger(log.Nop()))
	laps := feed(p, telemetry.New(10, 30).Laps(1))
	require.Len(t, laps, 1)
	assert.Len(t, laps[0].SectorDurations, 1)
	assert.InDelta(t, 30.0, laps[0].TotalDuration, 1e-9)
}
