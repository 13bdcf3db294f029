package hue

// StateUpdate is the body of PUT /api/<user>/lights/<id>/state (v1 API).
// Only the fields that are set are sent, so a color update never touches
// the power state and vice versa.
type StateUpdate struct {
	On             *bool     `json:"on,omitempty"`
	XY             []float64 `json:"xy,omitempty"`
	Bri            *uint8    `json:"bri,omitempty"`
	TransitionTime *uint16   `json:"transitiontime,omitempty"`
}

// PowerUpdate builds an on/off only update
func PowerUpdate(on bool) StateUpdate {
	return StateUpdate{On: &on}
}

// WithXY sets the color point
func (s StateUpdate) WithXY(x, y float64) StateUpdate {
	s.XY = []float64{x, y}
	return s
}

// WithBrightness sets brightness, clamped to the bridge's 1-254 range
func (s StateUpdate) WithBrightness(bri int) StateUpdate {
	if bri < 1 {
		bri = 1
	}
	if bri > 254 {
		bri = 254
	}
	b := uint8(bri)
	s.Bri = &b
	return s
}

// WithTransition sets the transition time in 100ms units
func (s StateUpdate) WithTransition(units int) StateUpdate {
	if units < 0 {
		units = 0
	}
	t := uint16(units)
	s.TransitionTime = &t
	return s
}
