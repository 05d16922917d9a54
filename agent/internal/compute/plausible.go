package compute

import "github.com/calmsignal/calmsignal/pkg/types"

// Physiological bounds. A sample outside its range is a sensor glitch
// (sensor off skin, motion artefact) and is not shipped.
const (
	MinPulseBPM = 25.0
	MaxPulseBPM = 240.0

	MinSkinTempC = 20.0
	MaxSkinTempC = 45.0
)

// Plausible reports whether v is inside the bounds for role
// ("pulse" or "temperature"). Unknown roles are never plausible.
func Plausible(role string, v float64) bool {
	switch role {
	case types.RolePulse:
		return v >= MinPulseBPM && v <= MaxPulseBPM
	case types.RoleTemperature:
		return v >= MinSkinTempC && v <= MaxSkinTempC
	}
	return false
}
