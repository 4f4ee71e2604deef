package serialmux

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// DefaultBaudRate is the servo controller's factory baud rate.
const DefaultBaudRate = 9600

// PortOptions are the line settings for the servo controller port. Zero
// values mean 9600 8N1.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

var parities = map[string]serial.Parity{
	"N": serial.NoParity,
	"E": serial.EvenParity,
	"O": serial.OddParity,
}

var parityNames = map[string]string{"NONE": "N", "EVEN": "E", "ODD": "O"}

// ParseFraming reads the usual data-parity-stop shorthand such as "8N1" or
// "7E2" into o, leaving the baud rate alone.
func (o PortOptions) ParseFraming(s string) (PortOptions, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 3 || s[0] < '5' || s[0] > '8' || (s[2] != '1' && s[2] != '2') {
		return o, fmt.Errorf("invalid framing %q: want data bits, parity and stop bits like 8N1", s)
	}
	if _, ok := parities[s[1:2]]; !ok {
		return o, fmt.Errorf("invalid framing %q: parity must be N, E or O", s)
	}
	o.DataBits = int(s[0] - '0')
	o.Parity = s[1:2]
	o.StopBits = int(s[2] - '0')
	return o, nil
}

// Normalize fills in defaults and rejects settings the controller cannot use.
func (o PortOptions) Normalize() (PortOptions, error) {
	if o.BaudRate <= 0 {
		o.BaudRate = DefaultBaudRate
	}
	if o.DataBits == 0 {
		o.DataBits = 8
	}
	if o.StopBits == 0 {
		o.StopBits = 1
	}
	p := strings.ToUpper(strings.TrimSpace(o.Parity))
	if long, ok := parityNames[p]; ok {
		p = long
	}
	if p == "" {
		p = "N"
	}

	switch {
	case o.DataBits < 5 || o.DataBits > 8:
		return o, fmt.Errorf("invalid data bits %d: must be between 5 and 8", o.DataBits)
	case o.StopBits != 1 && o.StopBits != 2:
		return o, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", o.StopBits)
	}
	if _, ok := parities[p]; !ok {
		return o, fmt.Errorf("unsupported parity %q: expected N, E, or O", o.Parity)
	}
	o.Parity = p
	return o, nil
}

// String is the "9600 8N1" form used in logs.
func (o PortOptions) String() string {
	return fmt.Sprintf("%d %d%s%d", o.BaudRate, o.DataBits, o.Parity, o.StopBits)
}

// SerialMode converts the options for go.bug.st/serial.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	n, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	stop := serial.OneStopBit
	if n.StopBits == 2 {
		stop = serial.TwoStopBits
	}
	return &serial.Mode{
		BaudRate: n.BaudRate,
		DataBits: n.DataBits,
		Parity:   parities[n.Parity],
		StopBits: stop,
	}, nil
}
