package wire

import (
	"strings"
)

// Init payload: name length (1 byte), name, presence flag (1 byte), then
// the initial response when the flag is 1.
func encodeInit(name string, initial []byte) ([]byte, error) {
	if name == "" || len(name) > 255 {
		return nil, ErrMalformed
	}
	out := make([]byte, 0, 2+len(name)+len(initial))
	out = append(out, byte(len(name)))
	out = append(out, name...)
	if initial == nil {
		return append(out, 0), nil
	}
	out = append(out, 1)
	return append(out, initial...), nil
}

func decodeInit(p []byte) (string, []byte, error) {
	if len(p) < 2 {
		return "", nil, ErrMalformed
	}
	n := int(p[0])
	if n == 0 || len(p) < 2+n {
		return "", nil, ErrMalformed
	}
	name := string(p[1 : 1+n])
	switch p[1+n] {
	case 0:
		if len(p) != 2+n {
			return "", nil, ErrMalformed
		}
		return name, nil, nil
	case 1:
		initial := make([]byte, len(p)-2-n)
		copy(initial, p[2+n:])
		return name, initial, nil
	default:
		return "", nil, ErrMalformed
	}
}

// Mechanisms payload: names separated by single spaces.
func encodeMechanisms(names []string) []byte {
	return []byte(strings.Join(names, " "))
}

func decodeMechanisms(p []byte) []string {
	if len(p) == 0 {
		return []string{}
	}
	return strings.Split(string(p), " ")
}

// Outcome is the final verdict sent to the peer.
type Outcome struct {
	OK bool
	// Code is the error code on failure, e.g. AUTHENTICATION_REJECTED.
	Code    string
	Message string
}

// Outcome payload: status (0 ok, 1 failed), code length (1 byte), code, message.
func encodeOutcome(o Outcome) []byte {
	status := byte(1)
	if o.OK {
		status = 0
	}
	code := o.Code
	if len(code) > 255 {
		code = code[:255]
	}
	out := make([]byte, 0, 2+len(code)+len(o.Message))
	out = append(out, status, byte(len(code)))
	out = append(out, code...)
	return append(out, o.Message...)
}

func decodeOutcome(p []byte) (Outcome, error) {
	if len(p) < 2 || p[0] > 1 {
		return Outcome{}, ErrMalformed
	}
	n := int(p[1])
	if len(p) < 2+n {
		return Outcome{}, ErrMalformed
	}
	return Outcome{
		OK:      p[0] == 0,
		Code:    string(p[2 : 2+n]),
		Message: string(p[2+n:]),
	}, nil
}
