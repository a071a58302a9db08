// Package influxdb writes forgerunner session metrics to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management and batched non-blocking writes.
//
// # Measurements
//
//   - session_state: one point per state transition, tagged with the state,
//     field "code" (idle=0 ... stopped=4)
//   - stop_attempt: one point per stop attempt, tagged with the outcome,
//     fields "duration_ms" and "timed_out"
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteSessionState("running")
//
// The client satisfies session.Metrics.
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
package influxdb
