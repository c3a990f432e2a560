package config

import "time"

// DefaultProfiles are the load shapes available without a config file.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		"steady": {
			Pattern:       "steady",
			JobsPerMinute: 2,
			Duration:      30 * time.Minute,
		},
		"burst": {
			Pattern:       "burst",
			BurstSize:     4,
			BurstInterval: 5 * time.Minute,
			Duration:      30 * time.Minute,
		},
		"spike": {
			Pattern:       "spike",
			NormalRate:    0.2,
			SpikeRate:     2.0,
			SpikeStart:    10 * time.Minute,
			SpikeDuration: 5 * time.Minute,
			Duration:      30 * time.Minute,
		},
		"ramp": {
			Pattern:       "ramp",
			JobsPerMinute: 0.5,
			RampTo:        4,
			Duration:      30 * time.Minute,
		},
	}
}
