package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"lets-chat/contract"
	"lets-chat/errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultRestartInterval = 200 * time.Millisecond
	maxRestartInterval     = 30 * time.Second
)

// Supervisor keeps the background workers of the chat server alive: presence
// recording, telemetry and badger GC. Each worker runs in its own goroutine and
// is restarted after a panic or an error, with a delay doubling up to
// maxRestartInterval. A worker returning nil is done for good.
type Supervisor struct {
	Cancel          context.CancelFunc
	wg              *sync.WaitGroup
	log             *slog.Logger
	workers         []contract.Worker
	restartInterval time.Duration
	restarts        *prometheus.CounterVec
}

func NewSupervisor(log *slog.Logger, restartInterval time.Duration) *Supervisor {
	if restartInterval <= 0 {
		restartInterval = defaultRestartInterval
	}
	return &Supervisor{wg: &sync.WaitGroup{}, log: log, restartInterval: restartInterval}
}

// CountRestarts increments restarts, labelled by worker name, on every restart.
func (s *Supervisor) CountRestarts(restarts *prometheus.CounterVec) *Supervisor {
	s.restarts = restarts
	return s
}

// Run blocks until every supervised worker has stopped.
// Cancelling ctx stops them all, Stop only stops the ones started here.
func (s *Supervisor) Run(ctx context.Context) {
	supervisedCtx, cancel := context.WithCancel(ctx)
	s.Cancel = cancel
	defer s.Cancel()

	for _, worker := range s.workers {
		s.Start(supervisedCtx, worker)
	}
	s.wg.Wait()
}

func (s *Supervisor) Add(worker ...contract.Worker) contract.ISupervisor {
	s.workers = append(s.workers, worker...)
	return s
}

func (s *Supervisor) Start(ctx context.Context, worker contract.Worker) {
	s.wg.Add(1)
	name := contract.GetWorkerName(worker)

	go func() {
		defer s.wg.Done()

		delay := s.restartInterval
		for attempt := 1; ; attempt++ {
			err := s.runOnce(ctx, name, worker)
			switch {
			case err == nil:
				s.log.Info("Worker finished", "name", name)
				return
			case ctx.Err() != nil:
				s.log.Info("Worker stopped", "name", name)
				return
			}

			s.log.Warn("Worker crashed, restarting", "name", name, "attempt", attempt, "delay", delay, "error", err)
			if s.restarts != nil {
				s.restarts.WithLabelValues(name).Inc()
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = nextDelay(delay)
		}
	}()
}

func (s *Supervisor) runOnce(ctx context.Context, name string, worker contract.Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Worker panicked", "name", name, "panic", r)
			err = errors.ErrWorkerPanic
		}
	}()
	return worker.Run(ctx)
}

func nextDelay(current time.Duration) time.Duration {
	return min(2*current, maxRestartInterval)
}

func (s *Supervisor) Stop() {
	if s.Cancel != nil {
		s.Cancel()
	}
}
