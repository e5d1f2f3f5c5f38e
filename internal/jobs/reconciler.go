// Package jobs holds the River background work: retrying the billing of
// results that were produced but could not be charged.
package jobs

import (
	"context"
	"fmt"

	"github.com/thereal-baitjet/Stream-Slicer/internal/models"
)

// InsertReconcileFunc enqueues a reconciliation job. Provided by main using
// river.Client.Insert.
type InsertReconcileFunc func(ctx context.Context, args ReconcileBillingArgs) error

// RiverReconciler submits reconciliations as River jobs.
type RiverReconciler struct {
	insert InsertReconcileFunc
}

func NewRiverReconciler(insert InsertReconcileFunc) *RiverReconciler {
	return &RiverReconciler{insert: insert}
}

func (r *RiverReconciler) Reconcile(ctx context.Context, rec models.Reconciliation) error {
	if err := r.insert(ctx, argsFromReconciliation(rec)); err != nil {
		return fmt.Errorf("jobs: enqueue reconciliation for %s: %w", rec.SessionID, err)
	}
	return nil
}
