package service

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/kadhash/dht/internal/logging"
	"github.com/kadhash/dht/internal/storage"
)

// Scheduler runs the three periodic maintenance passes over local storage:
// replicate, republish, and expire. Routing-table refresh is handled
// on demand by Node.Join's bucket-refresh instead of a ticker here.
type Scheduler struct {
	node *Node

	replicateInterval time.Duration
	republishInterval time.Duration
	expireInterval    time.Duration

	clk clock.Clock

	replicating sync.Mutex
	expiring    sync.Mutex

	stop chan struct{}
	wg   sync.WaitGroup
}

func newScheduler(n *Node, replicate, republish, expire time.Duration) *Scheduler {
	return &Scheduler{
		node:              n,
		replicateInterval: replicate,
		republishInterval: republish,
		expireInterval:    expire,
		clk:               n.clock,
		stop:              make(chan struct{}),
	}
}

// Start launches the two ticker loops. Replicate folds republish in by
// checking each record's age against the republish interval and
// re-publishing every due record, whoever published it; expire runs on its
// own interval. Each tick that finds a pass already draining is skipped:
// passes are singletons.
func (s *Scheduler) Start() {
	s.wg.Add(2)
	go s.loop(s.replicateInterval, s.runReplicate)
	go s.loop(s.expireInterval, s.runExpire)
}

// Stop halts both ticker loops. In-flight passes are allowed to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Scheduler) loop(interval time.Duration, pass func()) {
	defer s.wg.Done()
	ticker := s.clk.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			pass()
		case <-s.stop:
			return
		}
	}
}

// runReplicate re-publishes every record not published by this node that
// has gone untouched for at least republishInterval, and every
// self-published record that is itself due. Skips the tick entirely if a
// previous replicate pass is still draining its scan.
func (s *Scheduler) runReplicate() {
	if !s.replicating.TryLock() {
		return
	}
	defer s.replicating.Unlock()

	ctx := context.Background()
	entries, errs := s.node.storage.Scan(ctx)
	for e := range entries {
		record, err := storage.Decode(e.Raw)
		if err != nil {
			s.node.log.Error("replicate: cannot decode record", logging.F("key", e.Key.String()), logging.F("err", err.Error()))
			continue
		}
		due := s.clk.Now().Sub(record.Timestamp) >= s.republishInterval
		if !due {
			continue
		}
		if err := s.node.putByKey(ctx, e.Key, record.Value); err != nil {
			s.node.log.Warn("replicate: put failed", logging.F("key", e.Key.String()), logging.F("err", err.Error()))
		}
	}
	if err := <-errs; err != nil {
		s.node.log.Error("replicate: scan failed", logging.F("err", err.Error()))
	}
}

// runExpire deletes every record whose age has reached expireInterval.
// A record timestamped exactly now must survive; one timestamped exactly
// expireInterval ago must not.
func (s *Scheduler) runExpire() {
	if !s.expiring.TryLock() {
		return
	}
	defer s.expiring.Unlock()

	ctx := context.Background()
	entries, errs := s.node.storage.Scan(ctx)
	for e := range entries {
		record, err := storage.Decode(e.Raw)
		if err != nil {
			s.node.log.Error("expire: cannot decode record", logging.F("key", e.Key.String()), logging.F("err", err.Error()))
			continue
		}
		age := s.clk.Now().Sub(record.Timestamp)
		if age >= s.expireInterval {
			if err := s.node.storage.Del(ctx, e.Key); err != nil {
				s.node.log.Warn("expire: del failed", logging.F("key", e.Key.String()), logging.F("err", err.Error()))
			}
		}
	}
	if err := <-errs; err != nil {
		s.node.log.Error("expire: scan failed", logging.F("err", err.Error()))
	}
}
