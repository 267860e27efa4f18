package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultCallbackWorkers = 2
	callbackTimeout        = 5 * time.Second
)

type stateChangeEvent struct {
	name string
	from State
	to   State
}

// callbackWorkerPool runs OnStateChange callbacks off the request path with
// bounded concurrency. Events that do not fit in the queue are dropped.
type callbackWorkerPool struct {
	workers   int
	eventChan chan stateChangeEvent
	callback  func(name string, from State, to State)
	logger    *logrus.Logger

	wg       sync.WaitGroup
	mutex    sync.RWMutex
	stopped  bool
	stopOnce sync.Once
}

func newCallbackWorkerPool(workers int, callback func(string, State, State), logger *logrus.Logger) *callbackWorkerPool {
	p := &callbackWorkerPool{
		workers:   workers,
		eventChan: make(chan stateChangeEvent, workers*2),
		callback:  callback,
		logger:    logger,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *callbackWorkerPool) submit(event stateChangeEvent) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if p.stopped {
		return
	}
	select {
	case p.eventChan <- event:
	default:
		p.logger.WithFields(logrus.Fields{
			"circuit_breaker": event.name,
			"from_state":      event.from.String(),
			"to_state":        event.to.String(),
		}).Warn("Circuit breaker callback queue full, dropping state change event")
	}
}

func (p *callbackWorkerPool) run() {
	defer p.wg.Done()
	for event := range p.eventChan {
		p.execute(event)
	}
}

func (p *callbackWorkerPool) execute(event stateChangeEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.WithFields(logrus.Fields{
					"circuit_breaker": event.name,
					"from_state":      event.from.String(),
					"to_state":        event.to.String(),
					"panic":           r,
				}).Error("Circuit breaker state change callback panicked")
			}
			close(done)
		}()

		p.callback(event.name, event.from, event.to)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.WithFields(logrus.Fields{
			"circuit_breaker": event.name,
			"from_state":      event.from.String(),
			"to_state":        event.to.String(),
			"timeout":         callbackTimeout.String(),
		}).Warn("Circuit breaker state change callback timed out")
	}
}

func (p *callbackWorkerPool) shutdown(timeout time.Duration) {
	p.stopOnce.Do(func() {
		p.mutex.Lock()
		p.stopped = true
		close(p.eventChan)
		p.mutex.Unlock()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(timeout):
			p.logger.Warn("Timed out waiting for circuit breaker callbacks to finish")
		}
	})
}
