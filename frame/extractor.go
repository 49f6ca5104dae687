// Package frame extracts delimited binary messages from an unbounded,
// untrusted byte stream.
//
// A frame on the wire is three '{' bytes, followed by the payload encoded
// as pairs of ASCII hex digits, followed by three '}' bytes. The extractor
// is a finite-state byte scanner: any byte that does not fit the expected
// class for the current state resynchronizes the scanner, so arbitrary
// garbage never produces partial frames or unbounded buffering.
package frame

// State identifies a scanner state. The zero value is Interstitial.
type State int

const (
	// Interstitial scans for the first byte of a start marker.
	Interstitial State = iota
	// Open1 and Open2 consume the second and third start-marker bytes.
	Open1
	Open2
	// Nibble1 holds between hex-digit pairs; the next byte is either a
	// high nibble or the first end-marker byte.
	Nibble1
	// Nibble2 expects the low nibble completing an output byte.
	Nibble2
	// Close1 and Close2 consume the second and third end-marker bytes.
	Close1
	Close2
)

func (s State) String() string {
	switch s {
	case Interstitial:
		return "interstitial"
	case Open1:
		return "open1"
	case Open2:
		return "open2"
	case Nibble1:
		return "nibble1"
	case Nibble2:
		return "nibble2"
	case Close1:
		return "close1"
	case Close2:
		return "close2"
	default:
		return "unknown"
	}
}

const (
	openByte  = '{'
	closeByte = '}'

	// MaxFrameBytes is the hard cap on decoded frame length. A frame whose
	// decoded payload reaches this size is abandoned and scanning resumes.
	MaxFrameBytes = 500
)

// nibble decodes one ASCII hex digit. The letter ranges deliberately run
// through 'O'/'o' rather than 'F'/'f', matching the deployed bridge
// encoder byte for byte; the extra letters yield values above 15 and
// combine with truncation, exactly as the bridge firmware produces them.
func nibble(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'A' && b <= 'O':
		return b - 'A' + 10, true
	case b >= 'a' && b <= 'o':
		return b - 'a' + 10, true
	}
	return 0, false
}

// Extractor is the de-framing state machine for one byte stream.
// It holds no I/O: callers feed it bytes one at a time. Concurrent streams
// need independent Extractor instances.
type Extractor struct {
	state State
	high  byte
	buf   []byte
}

// NewExtractor returns an extractor scanning for a start marker.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// State returns the current scanner state.
func (e *Extractor) State() State {
	return e.state
}

// Feed advances the scanner by one byte. When b completes a frame, the
// decoded frame is returned with done=true. The returned slice is freshly
// allocated per frame and is not reused by the extractor.
func (e *Extractor) Feed(b byte) (frame []byte, done bool) {
	switch e.state {
	case Interstitial:
		if b == openByte {
			e.state = Open1
		}
	case Open1:
		if b == openByte {
			e.state = Open2
		} else {
			e.state = Interstitial
		}
	case Open2:
		if b == openByte {
			e.buf = nil
			e.state = Nibble1
		} else {
			e.state = Interstitial
		}
	case Nibble1:
		if n, ok := nibble(b); ok {
			e.high = n
			e.state = Nibble2
		} else if b == closeByte {
			e.state = Close1
		} else {
			e.state = Interstitial
		}
	case Nibble2:
		if n, ok := nibble(b); ok {
			e.buf = append(e.buf, e.high<<4|n)
			if len(e.buf) < MaxFrameBytes {
				e.state = Nibble1
			} else {
				// Frame too long: abandon and rescan.
				e.buf = nil
				e.state = Interstitial
			}
		} else {
			e.state = Interstitial
		}
	case Close1:
		if b == closeByte {
			e.state = Close2
		} else {
			e.state = Interstitial
		}
	case Close2:
		// Reset regardless of outcome; a complete frame is only emitted
		// on the third consecutive end-marker byte.
		e.state = Interstitial
		if b == closeByte {
			frame = e.buf
			if frame == nil {
				frame = []byte{}
			}
			e.buf = nil
			return frame, true
		}
	}
	return nil, false
}
