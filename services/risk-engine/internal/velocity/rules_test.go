package velocity

import (
	"testing"
	"time"
)

func TestHourBucketKey_ChangesEveryHour(t *testing.T) {
	base := time.Date(2026, 8, 6, 14, 30, 0, 0, time.UTC)
	next := base.Add(time.Hour)

	k1 := hourBucketKey("cust-1", base)
	k2 := hourBucketKey("cust-1", next)

	if k1 == k2 {
		t.Fatalf("expected distinct buckets across hours, got %s twice", k1)
	}
	if hourBucketKey("cust-1", base) != hourBucketKey("cust-1", base.Add(29*time.Minute)) {
		t.Fatal("expected same bucket within the same hour")
	}
}

func TestFailedAttemptsKey_IsPerCustomer(t *testing.T) {
	if failedAttemptsKey("cust-1") == failedAttemptsKey("cust-2") {
		t.Fatal("expected distinct keys per customer")
	}
}
