// Package stress fuses a pulse reading and a skin-temperature reading into a
// single stress index and classifies it.
//
// model.go provides the pure ComputeIndex(bpm, tempC) function:
// pulse(70%) + skin temperature(30%), each normalised to 0–1 and clamped.
// Skin temperature below 34 °C is treated as the sensor floor.
//
// State thresholds: Relaxed <0.3, Normal 0.3–0.6, Stressed ≥0.6, Unknown
// when either reading is missing.
package stress
