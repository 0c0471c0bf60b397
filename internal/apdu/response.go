package apdu

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// StatusOK is the status word of a successful exchange.
const StatusOK uint16 = 0x9000

// Well-known failure status words.
const (
	StatusWrongLength       uint16 = 0x6700
	StatusRejectedByUser    uint16 = 0x6985
	StatusInvalidData       uint16 = 0x6a80
	StatusINSNotSupported   uint16 = 0x6d00
	StatusCLANotSupported   uint16 = 0x6e00
	StatusTechnicalProblem  uint16 = 0x6f00
	StatusConditionsNotMet  uint16 = 0x6986
	StatusIncorrectP1P2     uint16 = 0x6b00
	StatusReferenceNotFound uint16 = 0x6a88
)

var statusText = map[uint16]string{
	StatusWrongLength:       "wrong length",
	StatusRejectedByUser:    "rejected by user",
	StatusInvalidData:       "invalid data",
	StatusINSNotSupported:   "instruction not supported",
	StatusCLANotSupported:   "class not supported",
	StatusTechnicalProblem:  "technical problem",
	StatusConditionsNotMet:  "conditions of use not satisfied",
	StatusIncorrectP1P2:     "incorrect parameters",
	StatusReferenceNotFound: "referenced data not found",
}

var ErrShortResponse = errors.New("response lacks status word")

// Response is a device reply split into payload and status word.
type Response struct {
	Status uint16
	Data   []byte
}

// ParseResponse splits a raw reply (data || SW1 SW2).
func ParseResponse(raw []byte) (Response, error) {
	if len(raw) < 2 {
		return Response{}, fmt.Errorf("%w: %d bytes", ErrShortResponse, len(raw))
	}
	n := len(raw) - 2
	return Response{
		Status: binary.BigEndian.Uint16(raw[n:]),
		Data:   raw[:n],
	}, nil
}

// Bytes re-encodes the response as data || SW1 SW2.
func (r Response) Bytes() []byte {
	out := make([]byte, 0, len(r.Data)+2)
	out = append(out, r.Data...)
	return binary.BigEndian.AppendUint16(out, r.Status)
}

// DeviceStatusError is returned when the device answers with anything other
// than StatusOK.
type DeviceStatusError struct {
	Code uint16
}

func (e *DeviceStatusError) Error() string {
	if text, ok := statusText[e.Code]; ok {
		return fmt.Sprintf("device status 0x%04x: %s", e.Code, text)
	}
	return fmt.Sprintf("device status 0x%04x", e.Code)
}

// UnexpectedResponseLengthError is returned when a reply payload does not
// have the size the active curve requires.
type UnexpectedResponseLengthError struct {
	Got      int
	Expected int
}

func (e *UnexpectedResponseLengthError) Error() string {
	return fmt.Sprintf("unexpected response length: got %d bytes, expected %d", e.Got, e.Expected)
}

// IsRejectedByUser reports whether err carries the user-rejection status.
func IsRejectedByUser(err error) bool {
	var se *DeviceStatusError
	return errors.As(err, &se) && se.Code == StatusRejectedByUser
}

// Validate checks the status word and payload length of rsp and returns the
// payload unchanged. Payloads are never truncated or padded.
func Validate(rsp Response, expected int) ([]byte, error) {
	if rsp.Status != StatusOK {
		return nil, &DeviceStatusError{Code: rsp.Status}
	}
	return ValidateLength(rsp.Data, expected)
}

// ValidateLength is the length half of Validate, for transports that hand
// back payloads without a status word.
func ValidateLength(data []byte, expected int) ([]byte, error) {
	if len(data) != expected {
		return nil, &UnexpectedResponseLengthError{Got: len(data), Expected: expected}
	}
	return data, nil
}

// SplitSignatures validates a multi-path sign reply holding count
// concatenated signatures of sigLen bytes each.
func SplitSignatures(rsp Response, count, sigLen int) ([][]byte, error) {
	data, err := Validate(rsp, count*sigLen)
	if err != nil {
		return nil, err
	}
	sigs := make([][]byte, count)
	for i := range sigs {
		sigs[i] = data[i*sigLen : (i+1)*sigLen]
	}
	return sigs, nil
}
