package influxdb

import (
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/forgerunner/forgerunner/internal/infrastructure/config"
)

func TestSessionStatePoint(t *testing.T) {
	at := time.Unix(1700000000, 0)

	tests := []struct {
		state string
		want  string
	}{
		{"idle", "session_state,state=idle code=0i"},
		{"running", "session_state,state=running code=2i"},
		{"stopped", "session_state,state=stopped code=4i"},
		{"bogus", "session_state,state=bogus code=-1i"},
	}

	for _, tt := range tests {
		p := sessionStatePoint(tt.state, at)
		if p.Name() != MeasurementSessionState {
			t.Errorf("Name() = %q, want %q", p.Name(), MeasurementSessionState)
		}
		got := write.PointToLineProtocol(p, time.Second)
		if !strings.HasPrefix(got, tt.want+" ") {
			t.Errorf("line protocol = %q, want prefix %q", got, tt.want)
		}
	}
}

func TestStopAttemptPoint(t *testing.T) {
	p := stopAttemptPoint("forced", 1500*time.Millisecond, true, time.Unix(1700000000, 0))

	got := write.PointToLineProtocol(p, time.Second)
	for _, part := range []string{"stop_attempt,outcome=forced ", "duration_ms=1500i", "timed_out=true", " 1700000000"} {
		if !strings.Contains(got, part) {
			t.Errorf("line protocol = %q, want it to contain %q", got, part)
		}
	}
}

func TestWriteOptions(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.InfluxDBConfig
		wantBatch uint
		wantFlush uint
	}{
		{"configured", config.InfluxDBConfig{BatchSize: 20, FlushInterval: 2}, 20, 2000},
		{"unset falls back", config.InfluxDBConfig{}, defaultBatchSize, 10000},
		{"negative falls back", config.InfluxDBConfig{BatchSize: -1, FlushInterval: -5}, defaultBatchSize, 10000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := writeOptions(tt.cfg)
			if got := opts.BatchSize(); got != tt.wantBatch {
				t.Errorf("BatchSize() = %d, want %d", got, tt.wantBatch)
			}
			if got := opts.FlushInterval(); got != tt.wantFlush {
				t.Errorf("FlushInterval() = %d, want %d", got, tt.wantFlush)
			}
		})
	}
}
