package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lanegate/server/internal/clock"
	"github.com/lanegate/server/internal/lanegate/relay"
	"github.com/lanegate/server/internal/lanegate/types"
	"github.com/lanegate/server/internal/metrics"
)

// Lookup answers membership queries for the controller.
type Lookup interface {
	Lookup(ctx context.Context, tagID string) (types.LookupResult, error)
}

// BarrierCycler runs one serialized open cycle on the shared barrier.
type BarrierCycler interface {
	Cycle(ctx context.Context, req relay.CycleRequest) ([]int, error)
}

// AccessLogSink accepts access decisions for asynchronous persistence.
// It must not block.
type AccessLogSink interface {
	EnqueueAccessLog(ev types.AccessLogEvent) error
}

// BufferClearer asks a reader to flush its hardware buffer.  It must not
// block.
type BufferClearer interface {
	RequestClear(readerID int) bool
}

// ControllerConfig holds the decision windows and caps.
type ControllerConfig struct {
	// CooldownWindow is the minimum time between grants of one tag, and
	// the idle time after which a lane episode resets.
	CooldownWindow time.Duration

	// CrossLaneWindow blocks a tag at every other lane after a decision.
	CrossLaneWindow time.Duration

	// MaxDBRecords caps persisted decisions per (tag, lane) episode.
	MaxDBRecords int

	// MaintenanceInterval is how often expired state is purged.
	MaintenanceInterval time.Duration

	// GrantChannels are the relay channels opened on a grant; empty
	// means all.
	GrantChannels []int
}

func (c ControllerConfig) withDefaults() ControllerConfig {
	if c.CooldownWindow <= 0 {
		c.CooldownWindow = 3 * time.Second
	}
	if c.CrossLaneWindow <= 0 {
		c.CrossLaneWindow = 20 * time.Second
	}
	if c.MaxDBRecords <= 0 {
		c.MaxDBRecords = 3
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = 30 * time.Second
	}
	return c
}

// laneEpisode is the repeated activity of one tag at one lane.
type laneEpisode struct {
	lastEventAt   time.Time // any read; drives the episode reset
	lastDecidedAt time.Time // any logged decision; drives cross-lane blocking
	recordCount   int
}

type dedupKey struct {
	tagID    string
	readerID int
	second   int64
}

type decideRequest struct {
	ctx   context.Context
	read  types.TagRead
	reply chan types.AccessDecision
}

// Controller is the only owner of decision state.  Every decision runs on
// the Run goroutine, one at a time, including the barrier hold of a
// grant; reads arriving meanwhile wait in the inbox.
type Controller struct {
	cfg     ControllerConfig
	lookup  Lookup
	barrier BarrierCycler
	sink    AccessLogSink
	clearer BufferClearer
	clk     clock.Clock
	logger  *zap.Logger

	// Owned by the Run goroutine.
	cooldowns map[string]time.Time
	episodes  map[string]map[int]*laneEpisode
	dedup     map[dedupKey]struct{}

	requests chan decideRequest
	done     chan struct{}
}

// NewController wires the controller.  clearer may be nil.
func NewController(cfg ControllerConfig, lookup Lookup, barrier BarrierCycler, sink AccessLogSink, clearer BufferClearer, clk clock.Clock, logger *zap.Logger) *Controller {
	if clk == nil {
		clk = clock.Real()
	}
	return &Controller{
		cfg:       cfg.withDefaults(),
		lookup:    lookup,
		barrier:   barrier,
		sink:      sink,
		clearer:   clearer,
		clk:       clk,
		logger:    logger.Named("access"),
		cooldowns: make(map[string]time.Time),
		episodes:  make(map[string]map[int]*laneEpisode),
		dedup:     make(map[dedupKey]struct{}),
		requests:  make(chan decideRequest),
		done:      make(chan struct{}),
	}
}

// Run decides every read from reads, and every Decide call, until ctx is
// cancelled.  It must be called exactly once.
func (c *Controller) Run(ctx context.Context, reads <-chan types.TagRead) {
	defer close(c.done)

	ticker := c.clk.NewTicker(c.cfg.MaintenanceInterval)
	defer ticker.Stop()

	c.logger.Info("access controller started",
		zap.Duration("cooldown", c.cfg.CooldownWindow),
		zap.Duration("cross_lane", c.cfg.CrossLaneWindow),
		zap.Int("max_db_records", c.cfg.MaxDBRecords))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("access controller stopped")
			return

		case read, ok := <-reads:
			if !ok {
				reads = nil
				continue
			}
			c.decide(ctx, read)

		case req := <-c.requests:
			req.reply <- c.decide(req.ctx, req.read)

		case <-ticker.C:
			c.purge(c.clk.Now())
		}
	}
}

// Done is closed when Run returns.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Decide submits one read and waits for its decision.
func (c *Controller) Decide(ctx context.Context, read types.TagRead) (types.AccessDecision, error) {
	req := decideRequest{ctx: ctx, read: read, reply: make(chan types.AccessDecision, 1)}

	select {
	case c.requests <- req:
	case <-c.done:
		return types.AccessDecision{}, ErrControllerStopped
	case <-ctx.Done():
		return types.AccessDecision{}, ctx.Err()
	}

	select {
	case d := <-req.reply:
		return d, nil
	case <-c.done:
		return types.AccessDecision{}, ErrControllerStopped
	case <-ctx.Done():
		return types.AccessDecision{}, ctx.Err()
	}
}

func (c *Controller) decide(ctx context.Context, read types.TagRead) types.AccessDecision {
	now := c.clk.Now()
	ep := c.touchEpisode(read.TagID, read.LaneID, now)

	d, member := c.evaluate(ctx, read, ep, now)

	if d.Outcome != types.OutcomeDuplicate && d.Outcome != types.OutcomeDeniedCooldown {
		c.persist(read, d, member, ep, now)
	}
	switch d.Outcome {
	case types.OutcomeGranted, types.OutcomeDeniedNotFound, types.OutcomeDeniedCooldown:
		if c.clearer != nil {
			c.clearer.RequestClear(read.ReaderID)
		}
	}

	metrics.RecordDecision(read.LaneID, d.Outcome.String(), c.clk.Now().Sub(now))
	return d
}

// evaluate applies the decision steps in order: cross-lane, cooldown,
// same-second dedup, membership, actuation.
func (c *Controller) evaluate(ctx context.Context, read types.TagRead, ep *laneEpisode, now time.Time) (types.AccessDecision, types.Member) {
	log := c.logger.With(
		zap.String("tag_id", read.TagID),
		zap.Int("reader_id", read.ReaderID),
		zap.Int("lane_id", read.LaneID))

	if lane, ok := c.crossLaneBlock(read.TagID, read.LaneID, now); ok {
		// A cross-lane denial is itself a decision at this lane and
		// blocks the other lanes in turn.
		ep.lastDecidedAt = now
		log.Warn("tag decided at another lane recently, access denied", zap.Int("other_lane_id", lane))
		return types.AccessDecision{Outcome: types.OutcomeDeniedCrossLane, Reason: types.ReasonCrossLane}, types.Member{}
	}

	if last, ok := c.cooldowns[read.TagID]; ok && now.Sub(last) < c.cfg.CooldownWindow {
		log.Debug("tag in cooldown", zap.Duration("since_grant", now.Sub(last)))
		return types.AccessDecision{Outcome: types.OutcomeDeniedCooldown, Reason: types.ReasonCooldown}, types.Member{}
	}

	key := dedupKey{tagID: read.TagID, readerID: read.ReaderID, second: now.Unix()}
	if _, seen := c.dedup[key]; seen {
		log.Debug("duplicate read in same second dropped")
		return types.AccessDecision{Outcome: types.OutcomeDuplicate, Reason: types.ReasonDuplicate}, types.Member{}
	}
	c.dedup[key] = struct{}{}

	res, err := c.lookup.Lookup(ctx, read.TagID)
	if err != nil {
		ep.lastDecidedAt = now
		log.Warn("membership lookup failed, access denied", zap.Error(err))
		return types.AccessDecision{Outcome: types.OutcomeDeniedNotFound, Reason: types.ReasonLookupError}, types.Member{}
	}
	if !res.Found {
		ep.lastDecidedAt = now
		log.Info("tag not registered, access denied")
		return types.AccessDecision{Outcome: types.OutcomeDeniedNotFound, Reason: types.ReasonNotFound}, types.Member{}
	}

	// The cooldown is written before the barrier is touched so a read of
	// the same tag queued behind this cycle is denied.
	c.cooldowns[read.TagID] = now
	ep.lastDecidedAt = now

	d := types.AccessDecision{Outcome: types.OutcomeGranted, Reason: types.ReasonMember}
	_, err = c.barrier.Cycle(ctx, relay.CycleRequest{
		Channels: c.cfg.GrantChannels,
		User:     res.Member.Owner,
		LaneID:   read.LaneID,
		ReaderID: read.ReaderID,
		Source:   types.SourceAuto,
	})
	if err != nil {
		d.Reason = types.ReasonActuationFailed
		log.Error("access granted but barrier cycle failed", zap.String("owner", res.Member.Owner), zap.Error(err))
		return d, res.Member
	}

	log.Info("access granted",
		zap.String("owner", res.Member.Owner),
		zap.String("vehicle", res.Member.VehicleNumber))
	return d, res.Member
}

// crossLaneBlock returns a lane other than laneID where the tag was
// decided within the cross-lane window.
func (c *Controller) crossLaneBlock(tagID string, laneID int, now time.Time) (int, bool) {
	for lane, ep := range c.episodes[tagID] {
		if lane == laneID || ep.lastDecidedAt.IsZero() {
			continue
		}
		if now.Sub(ep.lastDecidedAt) < c.cfg.CrossLaneWindow {
			return lane, true
		}
	}
	return 0, false
}

// touchEpisode returns the episode for (tag, lane), resetting its record
// count when the previous read is at least one cooldown window old.
func (c *Controller) touchEpisode(tagID string, laneID int, now time.Time) *laneEpisode {
	lanes := c.episodes[tagID]
	if lanes == nil {
		lanes = make(map[int]*laneEpisode)
		c.episodes[tagID] = lanes
	}
	ep := lanes[laneID]
	if ep == nil {
		ep = &laneEpisode{}
		lanes[laneID] = ep
	} else if now.Sub(ep.lastEventAt) >= c.cfg.CooldownWindow {
		ep.recordCount = 0
	}
	ep.lastEventAt = now
	return ep
}

// persist enqueues the decision unless the episode already reached its
// record cap.  Only accepted events count toward the cap.
func (c *Controller) persist(read types.TagRead, d types.AccessDecision, member types.Member, ep *laneEpisode, now time.Time) {
	if ep.recordCount >= c.cfg.MaxDBRecords {
		metrics.RecordSuppressedLog(read.LaneID)
		return
	}

	result := types.AccessDenied
	if d.Outcome.Granted() {
		result = types.AccessGranted
	}
	ev := types.AccessLogEvent{
		EventID:   uuid.NewString(),
		TagID:     read.TagID,
		ReaderID:  read.ReaderID,
		LaneID:    read.LaneID,
		DeviceID:  read.DeviceID,
		Result:    result,
		Reason:    d.Reason,
		Owner:     member.Owner,
		Vehicle:   member.VehicleNumber,
		Timestamp: now.UTC(),
	}
	if err := c.sink.EnqueueAccessLog(ev); err != nil {
		level := zap.WarnLevel
		if errors.Is(err, ErrWriterStopped) {
			level = zap.DebugLevel
		}
		c.logger.Log(level, "access log not queued", zap.String("tag_id", read.TagID), zap.Error(err))
		return
	}
	ep.recordCount++
}

// purge drops state that can no longer influence a decision.
func (c *Controller) purge(now time.Time) {
	for tag, at := range c.cooldowns {
		if now.Sub(at) >= c.cfg.CooldownWindow {
			delete(c.cooldowns, tag)
		}
	}

	horizon := max(c.cfg.CooldownWindow, c.cfg.CrossLaneWindow)
	for tag, lanes := range c.episodes {
		for lane, ep := range lanes {
			if now.Sub(ep.lastEventAt) >= horizon {
				delete(lanes, lane)
			}
		}
		if len(lanes) == 0 {
			delete(c.episodes, tag)
		}
	}

	sec := now.Unix()
	for k := range c.dedup {
		if k.second < sec {
			delete(c.dedup, k)
		}
	}
}
