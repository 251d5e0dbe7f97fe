package bus

// KeyCode is a semantic key decoded from terminal input.
type KeyCode int

const (
	KeyArrowUp KeyCode = iota + 1
	KeyArrowDown
	KeyEnter
	KeyP
	KeyQ
)

func (k KeyCode) String() string {
	switch k {
	case KeyArrowUp:
		return "ARROWUP"
	case KeyArrowDown:
		return "ARROWDOWN"
	case KeyEnter:
		return "ENTER"
	case KeyP:
		return "P"
	case KeyQ:
		return "Q"
	default:
		return "UNKNOWN"
	}
}

const (
	byteCtrlC = 0x03
	byteCR    = '\r'
	byteLF    = '\n'
	byteEsc   = 0x1b
)

type decoderState int

const (
	stateGround decoderState = iota
	stateEsc                 // saw ESC
	stateCSI                 // saw ESC [ or ESC O
)

// Decoder turns a raw terminal byte stream into key codes. It keeps
// state between Feed calls, so an escape sequence split across two
// reads still decodes. Unrecognized input yields nothing.
type Decoder struct {
	state   decoderState
	afterCR bool
}

// Feed decodes p and returns the keys it completed.
func (d *Decoder) Feed(p []byte) []KeyCode {
	var keys []KeyCode
	for _, b := range p {
		crlf := d.afterCR && b == byteLF
		d.afterCR = b == byteCR
		if crlf {
			continue
		}
		switch d.state {
		case stateEsc:
			if b == '[' || b == 'O' {
				d.state = stateCSI
				continue
			}
			d.state = stateGround
			if b == byteEsc {
				d.state = stateEsc
			}
		case stateCSI:
			// parameter bytes (e.g. ESC [ 1 ; 5 A) are skipped until the final byte
			if b >= 0x30 && b <= 0x3f {
				continue
			}
			d.state = stateGround
			switch b {
			case 'A':
				keys = append(keys, KeyArrowUp)
			case 'B':
				keys = append(keys, KeyArrowDown)
			}
		default:
			switch b {
			case byteEsc:
				d.state = stateEsc
			case byteCR, byteLF:
				keys = append(keys, KeyEnter)
			case 'p', 'P':
				keys = append(keys, KeyP)
			case 'q', 'Q', byteCtrlC:
				keys = append(keys, KeyQ)
			}
		}
	}
	return keys
}
