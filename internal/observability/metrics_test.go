package observability

import (
	"testing"
	"time"

	"github.com/danmuck/telemlink/internal/testutil/testlog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("wsrelay", "GET", "/health", 200, 12*time.Millisecond)
	RecordSyncDrop("serial", "malformed")
	RecordMessage("serial", "crc")
	RecordFrameClosed("serial", 412)
	RecordDownsample("network", true)
	RecordDownsample("network", false)
	RecordRelayFrame("veh-1", "sent")
	RecordRelayConnect("veh-1", 30*time.Millisecond, true)
	RecordRelayDisconnect()
	RecordTransportWrite("serial", "gated")
	RecordBackpressure("multicast", true)

	testlog.Logf("observability/metrics: registration idempotent and recording paths executed")
}
