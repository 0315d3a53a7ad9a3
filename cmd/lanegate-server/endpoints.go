package main

import (
	"context"
	"errors"

	"github.com/lanegate/server/internal/config"
	"github.com/lanegate/server/internal/lanegate/reader"
	"github.com/lanegate/server/internal/lanegate/store"
)

var errNoReaders = errors.New("no readers configured and none registered in the database")

// loadEndpoints prefers readers from the config file and falls back to the
// readers table.
func loadEndpoints(ctx context.Context, cfg []config.ReaderEndpoint, rs store.ReaderStore) ([]reader.Endpoint, error) {
	if len(cfg) > 0 {
		out := make([]reader.Endpoint, 0, len(cfg))
		for _, r := range cfg {
			out = append(out, reader.Endpoint{
				ReaderID: r.ID,
				LaneID:   r.LaneID,
				DeviceID: r.DeviceID,
				Address:  r.Address,
				Driver:   r.Driver,
			})
		}
		return out, nil
	}

	recs, err := rs.ListReaders(ctx)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, errNoReaders
	}
	out := make([]reader.Endpoint, 0, len(recs))
	for _, rec := range recs {
		out = append(out, reader.Endpoint{
			ReaderID: rec.ReaderID,
			LaneID:   rec.LaneID,
			Address:  rec.Address,
		})
	}
	return out, nil
}
