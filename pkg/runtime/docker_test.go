package runtime

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/docker/docker/api/types/container"
)

func TestComputeMetrics(t *testing.T) {
	stats := &container.StatsResponse{}
	stats.CPUStats.CPUUsage.TotalUsage = 400_000_000
	stats.PreCPUStats.CPUUsage.TotalUsage = 200_000_000
	stats.CPUStats.SystemUsage = 2_000_000_000
	stats.PreCPUStats.SystemUsage = 1_000_000_000
	stats.CPUStats.OnlineCPUs = 4
	stats.MemoryStats.Usage = 256 * bytesPerMB
	stats.MemoryStats.Limit = 512 * bytesPerMB
	stats.Networks = map[string]container.NetworkStats{
		"eth0": {RxBytes: 100, TxBytes: 200},
		"eth1": {RxBytes: 10, TxBytes: 20},
	}
	stats.BlkioStats.IoServiceBytesRecursive = []container.BlkioStatEntry{
		{Op: "Read", Value: 1000},
		{Op: "Write", Value: 2000},
		{Op: "read", Value: 50},
		{Op: "Sync", Value: 9999}, // ignored
	}

	m := computeMetrics(stats)

	// (0.2 / 1.0) * 4 * 100 = 80%
	if m.CPUPercent != 80.0 {
		t.Errorf("CPUPercent = %v, want 80", m.CPUPercent)
	}
	if m.MemoryPercent != 50.0 {
		t.Errorf("MemoryPercent = %v, want 50", m.MemoryPercent)
	}
	if m.NetworkRx != 110 || m.NetworkTx != 220 {
		t.Errorf("network = %d/%d, want 110/220", m.NetworkRx, m.NetworkTx)
	}
	if m.BlockRead != 1050 || m.BlockWrite != 2000 {
		t.Errorf("blkio = %d/%d, want 1050/2000", m.BlockRead, m.BlockWrite)
	}
}

func TestComputeMetricsZeroDeltas(t *testing.T) {
	// A one-shot sample can carry zeroed pre-CPU counters; no division by
	// zero, no negative percentages.
	stats := &container.StatsResponse{}
	stats.MemoryStats.Usage = 100

	m := computeMetrics(stats)
	if m.CPUPercent != 0 {
		t.Errorf("CPUPercent = %v, want 0", m.CPUPercent)
	}
	if m.MemoryPercent != 0 {
		t.Errorf("MemoryPercent = %v, want 0 with no limit", m.MemoryPercent)
	}
}

func TestAggregatePullProgress(t *testing.T) {
	// Simulated engine pull status stream: two layers downloading in
	// interleaved steps.
	messages := []map[string]interface{}{
		{"id": "layer1", "status": "Downloading", "progressDetail": map[string]int64{"current": 0, "total": 100}},
		{"id": "layer2", "status": "Downloading", "progressDetail": map[string]int64{"current": 0, "total": 300}},
		{"id": "layer1", "status": "Downloading", "progressDetail": map[string]int64{"current": 100, "total": 100}},
		{"id": "layer2", "status": "Downloading", "progressDetail": map[string]int64{"current": 300, "total": 300}},
		{"status": "Status: Downloaded newer image"},
	}

	var sb strings.Builder
	enc := json.NewEncoder(&sb)
	for _, msg := range messages {
		if err := enc.Encode(msg); err != nil {
			t.Fatalf("failed to encode message: %v", err)
		}
	}

	var percents []int
	err := aggregatePullProgress(strings.NewReader(sb.String()), func(p int, _ string) {
		percents = append(percents, p)
	})
	if err != nil {
		t.Fatalf("aggregatePullProgress() error = %v", err)
	}

	if len(percents) == 0 {
		t.Fatal("no progress reported")
	}
	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Errorf("progress went backwards: %v", percents)
		}
	}
	last := percents[len(percents)-1]
	if last != 99 {
		// 100 is reserved for stream completion reported by the caller.
		t.Errorf("final aggregated percent = %d, want 99", last)
	}
	for _, p := range percents {
		if p < 0 || p > 100 {
			t.Errorf("percent %d out of range", p)
		}
	}
}

func TestAggregateBuildProgress(t *testing.T) {
	stream := `{"stream":"Step 1/4 : FROM alpine\n"}
{"stream":" ---> abc123\n"}
{"stream":"Step 2/4 : RUN apk add curl\n"}
{"stream":"Step 4/4 : CMD [\"sh\"]\n"}
`
	var percents []int
	var lines []string
	err := aggregateBuildProgress(strings.NewReader(stream), func(p int, status string) {
		percents = append(percents, p)
		lines = append(lines, status)
	})
	if err != nil {
		t.Fatalf("aggregateBuildProgress() error = %v", err)
	}

	want := []int{25, 50, 99}
	if len(percents) != len(want) {
		t.Fatalf("percents = %v, want %v", percents, want)
	}
	for i := range want {
		if percents[i] != want[i] {
			t.Errorf("percents = %v, want %v", percents, want)
			break
		}
	}
	if lines[0] != "Step 1/4 : FROM alpine" {
		t.Errorf("first status = %q", lines[0])
	}
}

func TestAggregateBuildProgressError(t *testing.T) {
	stream := `{"errorDetail":{"message":"unknown instruction"},"error":"unknown instruction"}`
	err := aggregateBuildProgress(strings.NewReader(stream), func(int, string) {})
	if err == nil || !strings.Contains(err.Error(), "unknown instruction") {
		t.Errorf("error = %v, want unknown instruction", err)
	}
}

func TestAggregatePullProgressError(t *testing.T) {
	stream := `{"errorDetail":{"message":"manifest unknown"},"error":"manifest unknown"}`
	err := aggregatePullProgress(strings.NewReader(stream), func(int, string) {})
	if err == nil {
		t.Fatal("expected error from error message in stream")
	}
	if !strings.Contains(err.Error(), "manifest unknown") {
		t.Errorf("error = %v, want manifest unknown", err)
	}
}
