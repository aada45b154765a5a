package util

import (
	"sync"
	"time"

	"github.com/parley-labs/parley/logger"
	"go.uber.org/zap"
)

// TickWorker runs fn on a fixed interval until stopped. It is the single
// sanctioned shape for background maintenance loops; owners hold the stop
// handle and wait on the group during shutdown.
type TickWorker struct {
	name     string
	interval time.Duration
	stop     chan struct{}
	wg       *sync.WaitGroup
	fn       func()
}

func NewTickWorker(name string, interval time.Duration, fn func(), wg *sync.WaitGroup) *TickWorker {
	return &TickWorker{
		name:     name,
		interval: interval,
		stop:     make(chan struct{}),
		wg:       wg,
		fn:       fn,
	}
}

func (tw *TickWorker) Start() {
	ticker := time.NewTicker(tw.interval)
	tw.wg.Add(1)
	go func() {
		defer tw.wg.Done()
		for {
			select {
			case <-ticker.C:
				tw.fn()
			case <-tw.stop:
				logger.Info("stopping tick worker", zap.String("worker", tw.name))
				ticker.Stop()
				return
			}
		}
	}()
	logger.Info("tick worker started", zap.String("worker", tw.name))
}

func (tw *TickWorker) Stop() {
	close(tw.stop)
}
