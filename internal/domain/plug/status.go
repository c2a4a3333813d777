package plug

// PowerPoint is the data point that carries the power state of a plug.
const PowerPoint = "1"

// Status is what the device reported after a request.
type Status struct {
	// Points holds the raw data points keyed by their index.
	Points map[string]any
}

// Power returns the reported power state and whether it was present.
func (s *Status) Power() (bool, bool) {
	if s == nil {
		return false, false
	}

	on, ok := s.Points[PowerPoint].(bool)

	return on, ok
}

// Clone returns a copy of the status to avoid leaking internal references.
func (s *Status) Clone() *Status {
	if s == nil {
		return nil
	}

	points := make(map[string]any, len(s.Points))
	for k, v := range s.Points {
		points[k] = v
	}

	return &Status{Points: points}
}
