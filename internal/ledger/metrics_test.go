package ledger

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"plantgate.org/internal/auth"
	"plantgate.org/internal/obs"
)

func TestWithMetricsCountsResults(t *testing.T) {
	l := WithMetrics(NewInMemory(nil))
	ctx := context.Background()

	self := obs.SoDOperationsTotal.WithLabelValues("consume", string(auth.ReasonSelfAuthorization))
	ok := obs.SoDOperationsTotal.WithLabelValues("consume", "ok")
	beforeSelf, beforeOK := testutil.ToFloat64(self), testutil.ToFloat64(ok)

	_, _ = l.RecordRequest(ctx, "PO-77", auth.KindPurchaseOrder, "u-002")
	_, _ = l.CheckAndConsume(ctx, "PO-77", auth.KindPurchaseOrder, "u-002")
	_, _ = l.CheckAndConsume(ctx, "PO-77", auth.KindPurchaseOrder, "u-001")

	if got := testutil.ToFloat64(self) - beforeSelf; got != 1 {
		t.Fatalf("self_authorization count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(ok) - beforeOK; got != 1 {
		t.Fatalf("ok count = %v, want 1", got)
	}
}
