package syncq

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Pool runs stateless workers that drain the queue. Items of one session are
// never handed to two workers at once, so workers need no coordination.
type Pool struct {
	q       *Queue
	workers int
	poll    time.Duration
	log     logrus.FieldLogger
}

func NewPool(q *Queue, workers int, poll time.Duration) *Pool {
	if workers < 1 {
		workers = 1
	}
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Pool{q: q, workers: workers, poll: poll, log: q.log}
}

// Run requeues interrupted items and blocks until ctx is cancelled or a
// worker hits a storage error.
func (p *Pool) Run(ctx context.Context) error {
	if _, err := p.q.Recover(ctx); err != nil {
		return err
	}
	p.log.WithField("workers", p.workers).Info("sync workers started")
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		i := i
		g.Go(func() error { return p.work(gctx, i) })
	}
	err := g.Wait()
	if ctx.Err() != nil {
		err = nil
	}
	p.log.Info("sync workers stopped")
	return err
}

func (p *Pool) work(ctx context.Context, id int) error {
	log := p.log.WithField("worker", id)
	t := time.NewTicker(p.poll)
	defer t.Stop()
	failures := 0
	for {
		ok, err := p.q.Process(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			log.WithError(err).Error("queue storage error")
			if failures >= 5 {
				return err
			}
		} else {
			failures = 0
		}
		if ok {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-p.q.Wake():
		case <-t.C:
		}
	}
}
