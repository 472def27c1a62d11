package services

import (
	"context"
	"sync"
	"time"

	"household-planet/internal/config"
	"household-planet/internal/logger"
)

// mpesaReconcilable — часть PaymentService, которая нужна сверке.
type mpesaReconcilable interface {
	StalePendingMpesa(ctx context.Context, olderThan time.Duration, limit int) ([]string, error)
	ReconcileMpesa(ctx context.Context, checkoutRequestID string) (bool, error)
}

// PaymentReconciler периодически опрашивает Daraja по M-Pesa платежам,
// для которых вебхук так и не пришёл.
type PaymentReconciler struct {
	payments mpesaReconcilable
	log      *logger.Logger
	cfg      config.ReconcilerConfig
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewPaymentReconciler создает планировщик сверки.
func NewPaymentReconciler(payments mpesaReconcilable, log *logger.Logger, cfg config.ReconcilerConfig) *PaymentReconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &PaymentReconciler{
		payments: payments,
		log:      log,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
	}
}

// Start запускает сверку в отдельной горутине.
func (r *PaymentReconciler) Start(ctx context.Context) {
	r.log.WithField("interval", r.cfg.Interval.String()).Info("Starting payment reconciler")
	go r.run(ctx)
}

// Stop останавливает сверку. Повторный вызов безопасен.
func (r *PaymentReconciler) Stop() {
	r.stopOnce.Do(func() {
		r.log.Info("Stopping payment reconciler")
		close(r.stopCh)
	})
}

func (r *PaymentReconciler) run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce проходит по одной пачке зависших платежей и возвращает число изменённых.
func (r *PaymentReconciler) RunOnce(ctx context.Context) int {
	ids, err := r.payments.StalePendingMpesa(ctx, r.cfg.StaleAfter, r.cfg.BatchSize)
	if err != nil {
		r.log.WithError(err).Error("Failed to list stale M-Pesa payments")
		return 0
	}

	changed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		ok, err := r.payments.ReconcileMpesa(ctx, id)
		if err != nil {
			r.log.WithError(err).WithField("checkout_request_id", id).Warn("M-Pesa reconciliation failed")
			continue
		}
		if ok {
			changed++
		}
	}

	if len(ids) > 0 {
		r.log.WithFields(map[string]interface{}{
			"checked": len(ids),
			"changed": changed,
		}).Info("M-Pesa reconciliation pass finished")
	}
	return changed
}
