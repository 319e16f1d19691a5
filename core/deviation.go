package core

import (
	"math"
	"strings"
)

// ObservedActivity summarizes an actor's recent telemetry along the baseline
// dimensions of a BehavioralProfile.
type ObservedActivity struct {
	AvgLoginHour        float64
	UniqueIPCount       float64
	UniqueResourceCount float64
	LoginCount          int
}

// ObserveActivity reduces an event window to the baseline dimensions. Login
// hours come from login-type events, IPs from the source_ip field, resources
// from the event resource. Shared by the behavioral rule kind and the
// behavioral anomaly detector so both score the same way.
func ObserveActivity(events []Event) ObservedActivity {
	var hourSum float64
	ips := make(map[string]struct{})
	resources := make(map[string]struct{})

	var observed ObservedActivity
	for _, e := range events {
		if strings.Contains(e.EventType, "login") {
			hourSum += float64(e.Timestamp.Hour())
			observed.LoginCount++
		}
		if ip, ok := e.Fields["source_ip"].(string); ok && ip != "" {
			ips[ip] = struct{}{}
		}
		if e.Resource != "" {
			resources[e.Resource] = struct{}{}
		}
	}

	observed.UniqueIPCount = float64(len(ips))
	observed.UniqueResourceCount = float64(len(resources))
	if observed.LoginCount > 0 {
		observed.AvgLoginHour = hourSum / float64(observed.LoginCount)
	}
	return observed
}

// LoginHourDeviation is the hour-of-day distance normalized over the 24-hour
// range.
func LoginHourDeviation(observed, baseline float64) float64 {
	return math.Abs(observed-baseline) / 24.0
}

// CountDeviation is the relative distance between an observed and a baseline
// count: |observed-baseline| / max(observed, baseline). Both zero means no
// deviation.
func CountDeviation(observed, baseline float64) float64 {
	max := math.Max(observed, baseline)
	if max == 0 {
		return 0
	}
	return math.Abs(observed-baseline) / max
}
