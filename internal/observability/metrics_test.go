package observability

import (
	"testing"
	"time"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordRequest("request_license", "ok", 3*time.Millisecond)
	RecordRequest("", "invalid_packet", time.Millisecond)
	RecordRejectedFrame("request_too_large")
	SessionOpened()
	SessionClosed()
	RecordHTTPRequest("GET", "/health", 200, 12*time.Millisecond)
}
