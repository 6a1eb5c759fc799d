//nolint:whitespace //can't make both the linter and editor happy :(
package track

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mpapenbr/iracelog-sectortiming/pkg/model"
)

var ErrTrackNotFound = errors.New("track not found")

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// LoadByID reads the track info stored in the data column of the track table.
func LoadByID(
	ctx context.Context,
	conn Querier,
	id int,
) (*model.TrackInfo, error) {
	row := conn.QueryRow(ctx, fmt.Sprintf("%s where id=$1", selector), id)
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("track %d: %w", id, ErrTrackNotFound)
		}
		return nil, err
	}
	var item model.TrackInfo
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("track %d: %w", id, err)
	}
	if item.ID == 0 {
		item.ID = id
	}
	return &item, nil
}

// little helper
const selector = string(`select data from track`)
