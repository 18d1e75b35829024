package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	// Create a new registry for isolated testing
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	if m == nil {
		t.Fatal("NewMetricsWithRegistry returned nil")
	}
	if m.DatagramsSent == nil {
		t.Error("DatagramsSent metric is nil")
	}
	if m.SendRetries == nil {
		t.Error("SendRetries metric is nil")
	}
	if m.TransportRunning == nil {
		t.Error("TransportRunning metric is nil")
	}
}

func TestRecordSentReceived(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordSent(100)
	m.RecordSent(28)
	m.RecordReceived(1500)

	if got := testutil.ToFloat64(m.DatagramsSent); got != 2 {
		t.Errorf("DatagramsSent = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.BytesSent); got != 128 {
		t.Errorf("BytesSent = %v, want 128", got)
	}
	if got := testutil.ToFloat64(m.DatagramsReceived); got != 1 {
		t.Errorf("DatagramsReceived = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.BytesReceived); got != 1500 {
		t.Errorf("BytesReceived = %v, want 1500", got)
	}
	if got := testutil.CollectAndCount(m.DatagramSizes); got != 1 {
		t.Errorf("DatagramSizes series = %d, want 1", got)
	}
}

func TestRecordRetryAndDrop(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordRetry(RetryWouldBlock)
	m.RecordRetry(RetryWouldBlock)
	m.RecordRetry(RetryInterrupted)
	m.RecordDrop(DropForeignSender)

	if got := testutil.ToFloat64(m.SendRetries.WithLabelValues(RetryWouldBlock)); got != 2 {
		t.Errorf("SendRetries{eagain} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SendRetries.WithLabelValues(RetryInterrupted)); got != 1 {
		t.Errorf("SendRetries{eintr} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.DatagramsDropped.WithLabelValues(DropForeignSender)); got != 1 {
		t.Errorf("DatagramsDropped{foreign_sender} = %v, want 1", got)
	}
}

func TestRecordLoopLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordLoopStart()
	m.RecordLoopStart()
	if got := testutil.ToFloat64(m.TransportRunning); got != 2 {
		t.Errorf("TransportRunning = %v, want 2", got)
	}

	m.RecordLoopExit("broken_pipe")
	if got := testutil.ToFloat64(m.TransportRunning); got != 1 {
		t.Errorf("TransportRunning = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LoopExits.WithLabelValues("broken_pipe")); got != 1 {
		t.Errorf("LoopExits{broken_pipe} = %v, want 1", got)
	}
}

func TestDefault_Singleton(t *testing.T) {
	a := Default()
	b := Default()
	if a != b {
		t.Error("Default() returned different instances")
	}
}
