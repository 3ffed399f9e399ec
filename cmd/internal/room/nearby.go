package room

import (
	"context"
	"math"
	"time"

	"nearby/cmd/internal/errs"
	"nearby/cmd/internal/geo"

	"golang.org/x/sync/errgroup"
)

// DefaultRadiusKm is the radius used by the HTTP nearby endpoint.
const DefaultRadiusKm = 5.0

// FindNearby returns every live room within radiusKm (inclusive) of (lat, lng), in index order.
// Index entries whose record is gone are removed from the index in one batch after the scan.
func (r *Registry) FindNearby(ctx context.Context, lat, lng, radiusKm float64) ([]Room, error) {
	const op = "room.FindNearby"

	origin := geo.Point{Lat: lat, Lng: lng}
	if !origin.Valid() {
		return nil, errs.Validation(op, "lat must be within [-90,90] and lng within [-180,180]")
	}
	if math.IsNaN(radiusKm) || radiusKm < 0 {
		return nil, errs.Validation(op, "radius must be a non-negative number")
	}

	start := time.Now()
	defer func() { r.metrics.ObserveNearby(time.Since(start)) }()

	live, err := r.scan(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Room, 0, len(live))
	for _, rm := range live {
		if geo.Within(origin, geo.Point{Lat: rm.Lat, Lng: rm.Lng}, radiusKm) {
			out = append(out, rm)
		}
	}
	return out, nil
}

// Sweep reconciles the whole index without a distance filter and reports how many
// live rooms remain. It is the background counterpart of the prune-on-read in FindNearby.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	live, err := r.scan(ctx)
	if err != nil {
		return 0, err
	}
	return len(live), nil
}

// scan reads every indexed room, prunes dangling ids, and returns the live rooms in index order.
func (r *Registry) scan(ctx context.Context) ([]Room, error) {
	roomIDs, err := r.store.Members(ctx, IndexKey)
	if err != nil {
		return nil, errs.Unavailable("room.scan", err)
	}
	if len(roomIDs) == 0 {
		return nil, nil
	}

	type slot struct {
		room Room
		ok   bool
	}
	slots := make([]slot, len(roomIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.fetchPar)
	for i, id := range roomIDs {
		g.Go(func() error {
			rm, ok, err := r.Get(gctx, id)
			if err != nil {
				return err
			}
			slots[i] = slot{room: rm, ok: ok}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	live := make([]Room, 0, len(roomIDs))
	var stale []string
	for i, s := range slots {
		if !s.ok {
			stale = append(stale, roomIDs[i])
			continue
		}
		live = append(live, s.room)
	}

	r.prune(ctx, stale)
	return live, nil
}

// prune removes ids from the index in a single call. Failure is logged, not returned:
// the entries stay dangling until the next reader retries.
func (r *Registry) prune(ctx context.Context, roomIDs []string) {
	if len(roomIDs) == 0 {
		return
	}
	if err := r.store.RemoveFromSet(ctx, IndexKey, roomIDs...); err != nil {
		r.log.Warn("room.index.prune.fail", "count", len(roomIDs), "err", err)
		return
	}
	r.metrics.RoomsPruned(len(roomIDs))
	r.log.Debug("room.index.pruned", "count", len(roomIDs))
}

// RunSweeper calls Sweep every interval until ctx is done. A non-positive interval disables it.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration, after func(context.Context)) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			live, err := r.Sweep(ctx)
			if err != nil {
				r.log.Warn("room.sweep.fail", "err", err)
				continue
			}
			r.log.Debug("room.sweep.done", "live", live)
			if after != nil {
				after(ctx)
			}
		}
	}
}
