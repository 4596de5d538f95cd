package accessory

// Value reads a sensor's wear percentage from a decoded payload.
// The water tank byte spans 0-255; every other sensor stores a percentage.
func Value(id string, s Sensor, payload []byte) (int, bool) {
	if s.BytePosition == nil {
		return 0, false
	}
	pos := *s.BytePosition
	if pos < 0 || pos >= len(payload) {
		return 0, false
	}
	b := int(payload[pos])
	if id == WaterTankID {
		return min(100, b*100/255), true
	}
	return max(0, min(100, b)), true
}
