package services

import (
	"context"
	"log"
	"sync"
	"time"

	"wallet-backend/internal/metrics"
	"wallet-backend/internal/repository"
)

// PaymentMonitorService owns one timer per PENDING payment intent. Each timer
// fires a confirmation check on a fixed interval, with one immediate check when
// monitoring starts. Timers remove themselves once the intent reaches a terminal
// state.
type PaymentMonitorService struct {
	confirmation *ConfirmationService
	payments     repository.PaymentRepository
	interval     time.Duration

	mu     sync.Mutex
	timers map[string]chan struct{}
	wg     sync.WaitGroup
}

// NewPaymentMonitorService creates the payment monitor
func NewPaymentMonitorService(confirmation *ConfirmationService, payments repository.PaymentRepository, intervalSeconds int) *PaymentMonitorService {
	if intervalSeconds <= 0 {
		intervalSeconds = 30
	}
	return &PaymentMonitorService{
		confirmation: confirmation,
		payments:     payments,
		interval:     time.Duration(intervalSeconds) * time.Second,
		timers:       make(map[string]chan struct{}),
	}
}

// StartMonitoring arms the timer for one payment intent. Idempotent: starting an
// already-monitored intent replaces its timer instead of duplicating it.
func (s *PaymentMonitorService) StartMonitoring(paymentID string) {
	s.mu.Lock()
	if existing, ok := s.timers[paymentID]; ok {
		close(existing)
		log.Printf("🔄 [Monitor] Replacing existing timer for payment %s", paymentID)
	} else {
		metrics.ActiveMonitors.Inc()
	}
	stop := make(chan struct{})
	s.timers[paymentID] = stop
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(paymentID, stop)
	log.Printf("▶️ [Monitor] Started monitoring payment %s (interval %s)", paymentID, s.interval)
}

// StopMonitoring clears the timer for one payment intent. Safe to call for an
// intent that is not being monitored.
func (s *PaymentMonitorService) StopMonitoring(paymentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(paymentID)
}

func (s *PaymentMonitorService) stopLocked(paymentID string) {
	if stop, ok := s.timers[paymentID]; ok {
		close(stop)
		delete(s.timers, paymentID)
		metrics.ActiveMonitors.Dec()
		log.Printf("⏹️ [Monitor] Stopped monitoring payment %s", paymentID)
	}
}

// run is the per-intent timer loop: immediate check, then one check per tick
func (s *PaymentMonitorService) run(paymentID string, stop chan struct{}) {
	defer s.wg.Done()

	if s.checkOnce(paymentID) {
		s.removeSelf(paymentID, stop)
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if s.checkOnce(paymentID) {
				s.removeSelf(paymentID, stop)
				return
			}
		}
	}
}

// checkOnce runs one confirmation check; returns true once the intent is terminal
// so the caller can tear the timer down
func (s *PaymentMonitorService) checkOnce(paymentID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	result, err := s.confirmation.CheckPayment(ctx, paymentID)
	if err != nil {
		// soft failure, the next tick retries
		log.Printf("⚠️ [Monitor] Check failed for payment %s: %v", paymentID, err)
		return false
	}
	return result.Status.IsTerminal()
}

// removeSelf drops the registry entry for a timer that exited on its own, unless
// it was already replaced by a newer StartMonitoring call
func (s *PaymentMonitorService) removeSelf(paymentID string, stop chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.timers[paymentID]; ok && current == stop {
		delete(s.timers, paymentID)
		metrics.ActiveMonitors.Dec()
		log.Printf("✅ [Monitor] Payment %s reached terminal state, monitor removed", paymentID)
	}
}

// RecoverPending re-arms timers for every PENDING intent found in storage.
// Called once at process startup.
func (s *PaymentMonitorService) RecoverPending(ctx context.Context) error {
	intents, err := s.payments.FindPending(ctx)
	if err != nil {
		return err
	}
	for _, intent := range intents {
		s.StartMonitoring(intent.ID)
	}
	log.Printf("✅ [Monitor] Recovered %d pending payment monitors", len(intents))
	return nil
}

// ActiveCount returns the number of armed timers
func (s *PaymentMonitorService) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop tears down every timer and waits for in-flight checks to finish
func (s *PaymentMonitorService) Stop() {
	s.mu.Lock()
	for paymentID := range s.timers {
		s.stopLocked(paymentID)
	}
	s.mu.Unlock()
	s.wg.Wait()
	log.Printf("⏹️ [Monitor] Payment monitor stopped")
}
