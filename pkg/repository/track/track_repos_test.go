package track

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/iracelog-sectortiming/pkg/model"
)

type fakeRow struct {
	data []byte
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*[]byte)) = r.data
	return nil
}

type fakeQuerier struct {
	row  fakeRow
	sql  string
	args []any
}

func (q *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	q.sql = sql
	q.args = args
	return q.row
}

func TestLoadByID(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{data: []byte(`{
		"trackDisplayName":"Spa",
		"sectors":[{"sectorNum":0,"sectorStartPct":0},{"sectorNum":1,"sectorStartPct":0.4}]
	}`)}}
	ti, err := LoadByID(context.Background(), q, 163)
	require.NoError(t, err)
	assert.Equal(t, "select data from track where id=$1", q.sql)
	assert.Equal(t, []any{163}, q.args)
	assert.Equal(t, 163, ti.ID)
	assert.Equal(t, "Spa", ti.Name)
	assert.Equal(t, []model.TrackSector{
		{SectorNum: 0, SectorStartPct: 0},
		{SectorNum: 1, SectorStartPct: 0.4},
	}, ti.Sectors)
}

func TestLoadByID_Errors(t *testing.T) {
	_, err := LoadByID(context.Background(), &fakeQuerier{row: fakeRow{err: pgx.ErrNoRows}}, 1)
	assert.ErrorIs(t, err, ErrTrackNotFound)

	boom := errors.New("boom")
	_, err = LoadByID(context.Background(), &fakeQuerier{row: fakeRow{err: boom}}, 1)
	assert.ErrorIs(t, err, boom)

	_, err = LoadByID(context.Background(), &fakeQuerier{row: fakeRow{data: []byte("{")}}, 1)
	assert.Error(t, err)
}
