package engine

// State is the media engine's session lifecycle, per spec §4.6.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateJoined
	StateDisconnecting
)

// String renders the state for logging.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// CaptureSession is an explicit capture-session handle holding an ID and a
// cleanup function, replacing the source's hidden mutable-state attachment
// on track objects (spec §9). It does not hold the capture track or its
// reader.
type CaptureSession struct {
	ID      string
	Cleanup func()
}

// Close runs the session's cleanup exactly once.
func (c *CaptureSession) Close() {
	if c.Cleanup != nil {
		cleanup := c.Cleanup
		c.Cleanup = nil
		cleanup()
	}
}
