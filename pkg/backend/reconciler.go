package backend

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"
)

func (b *backend) StartReconcileDaemon(stopCh <-chan struct{}) {
	logrus.Infof("starting quota reconcile daemon. Reconcile interval: %vs", b.reconcileIntervalSeconds)
	wait.JitterUntil(b.reconcile, time.Duration(b.reconcileIntervalSeconds)*time.Second, .002, true, stopCh)
}

func (b *backend) reconcile() {
	logrus.Infof("Beginning quota reconcile")

	released, err := b.ReconcileAll(context.Background())
	if err != nil {
		logrus.Errorf("problem reconciling quotas: %v", err)
	}
	logrus.Infof("Subdomains released over quota: %v", released)
}

// ReconcileAll enforces the stored quota of every known user. A failure for
// one user is logged and does not stop the pass.
func (b *backend) ReconcileAll(ctx context.Context) (int, error) {
	userIDs, err := b.storage.ListUserIDs(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, id := range userIDs {
		released, err := b.Reconcile(ctx, id)
		total += len(released)
		if err != nil {
			logrus.Errorf("Could not reconcile quota for user %s. Error: %v", id, err)
		}
	}
	return total, nil
}
