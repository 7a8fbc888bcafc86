package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"

	core "github.com/mohammad-safakhou/scout/internal/agent/core"
	"github.com/mohammad-safakhou/scout/internal/index"
	"github.com/mohammad-safakhou/scout/internal/store"
)

// Scheduler re-runs stored queries on their cron schedule. A Redis lock
// per scheduled query keeps multiple instances from duplicating work.
type Scheduler struct {
	Store    *store.Store
	Cache    *store.Cache
	Orch     Discoverer
	Index    *index.CandidateIndex
	Interval time.Duration
	Logger   *log.Logger

	stop chan struct{}
}

// Start begins the ticker loop.
func (s *Scheduler) Start() {
	if s.Interval <= 0 {
		s.Interval = time.Hour
	}
	if s.Logger == nil {
		s.Logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	s.stop = make(chan struct{})
	ticker := time.NewTicker(s.Interval)
	go func() {
		for {
			select {
			case <-s.stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick(context.Background())
			}
		}
	}()
}

// Stop halts the ticker loop.
func (s *Scheduler) Stop() {
	if s.stop != nil {
		close(s.stop)
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	queries, err := s.Store.ListScheduledQueries(ctx)
	if err != nil {
		s.Logger.Printf("list scheduled queries: %v", err)
		return
	}
	now := time.Now()
	for _, sq := range queries {
		if !isDue(sq.CronExpr, sq.LastRunAt, now) {
			continue
		}
		if s.Cache != nil {
			ok, release, err := s.Cache.AcquireLock(ctx, "sched:"+sq.ID, 5*time.Minute)
			if err != nil || !ok {
				continue
			}
			defer release()
		}
		s.runScheduled(ctx, sq)
	}
}

func (s *Scheduler) runScheduled(ctx context.Context, sq store.ScheduledQuery) {
	s.Logger.Printf("re-running scheduled query %s: %q", sq.ID, sq.Query)
	stream := core.NewStream(256)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for range stream.Events() {
			// scheduled runs have no live consumer
		}
	}()

	result, err := s.Orch.Discover(ctx, sq.Query, stream)
	<-drained
	if err != nil {
		s.Logger.Printf("scheduled query %s failed: %v", sq.ID, err)
		return
	}
	if err := s.Store.SaveDiscovery(ctx, sq.UserID, result); err != nil {
		s.Logger.Printf("persist scheduled discovery %s: %v", result.ID, err)
	}
	if s.Index != nil {
		if err := s.Index.IndexDiscovery(result.ID, result.OriginalQuery, result.Candidates); err != nil {
			s.Logger.Printf("index scheduled discovery %s: %v", result.ID, err)
		}
	}
	if err := s.Store.TouchScheduledQuery(ctx, sq.ID); err != nil {
		s.Logger.Printf("touch scheduled query %s: %v", sq.ID, err)
	}
}

// isDue reports whether a cron spec has a fire time between the last run
// and now. A query that never ran is due immediately.
func isDue(cronSpec string, last, now time.Time) bool {
	expr, err := cronexpr.Parse(cronSpec)
	if err != nil {
		return false
	}
	if last.IsZero() {
		return true
	}
	next := expr.Next(last)
	return !next.IsZero() && !next.After(now)
}
