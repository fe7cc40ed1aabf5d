// Package wire defines the line-oriented JSON protocol spoken between the
// host and the hardware-wallet worker process.
//
// Each direction carries exactly one JSON object per line. Requests flow to
// the worker's stdin, response envelopes come back on its stdout. The codec
// is stateless; correlation and turn-taking are enforced by the bridge layer.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Command names the operations the worker understands.
type Command string

const (
	CmdInit         Command = "init"
	CmdGetFeatures  Command = "getFeatures"
	CmdGetAddress   Command = "getAddress"
	CmdGetPublicKey Command = "getPublicKey"
	CmdExit         Command = "exit"
)

// Args carries the named arguments of a request. Derivation paths and coin
// identifiers are passed through verbatim; the worker owns their validation.
type Args struct {
	// Path is a BIP-32 derivation path string, e.g. "m/44'/0'/0'/0/0".
	Path string `json:"path,omitempty"`

	// Coin is the currency identifier, e.g. "bitcoin".
	Coin string `json:"coin,omitempty"`

	// ShowOnDevice asks the device to display the address for confirmation.
	// Only meaningful for getAddress.
	ShowOnDevice *bool `json:"showOnDevice,omitempty"`
}

// Request is one command sent to the worker. Immutable once constructed;
// it exists only for the duration of a single call.
type Request struct {
	ID      uint64  `json:"id"`
	Command Command `json:"command"`
	Args    *Args   `json:"args,omitempty"`
}

// Envelope is the common response wrapper shared by all operations.
// Payload is left raw so the caller can decode it into the shape the
// invoked command promises (see Decode).
type Envelope struct {
	ID      uint64          `json:"id"`
	Success bool            `json:"success"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
	Device  *DeviceSummary  `json:"device,omitempty"`
}

// Response is a fully decoded envelope with a typed payload.
// Payload is non-nil iff the worker reported success and sent one.
type Response[T any] struct {
	ID      uint64
	Success bool
	Payload *T
	Error   string
	Message string
	Device  *DeviceSummary
}

// EncodeRequest serializes a request to its single-line wire form,
// including the trailing newline.
func EncodeRequest(req Request) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request %d: %w", req.ID, err)
	}
	return append(data, '\n'), nil
}

// DecodeRequest parses a single request line. Used by worker stubs in tests
// and by the round-trip property: encoding then decoding preserves id,
// command and args.
func DecodeRequest(line []byte) (Request, error) {
	var req Request
	dec := json.NewDecoder(bytes.NewReader(line))
	if err := dec.Decode(&req); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

// DecodeEnvelope parses a response line into the common envelope shape,
// leaving the payload raw.
func DecodeEnvelope(line []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// Decode parses a response line into a typed response. The payload type is
// selected by the caller based on which command was sent; the envelope
// fields themselves are command-agnostic.
func Decode[T any](line []byte) (Response[T], error) {
	env, err := DecodeEnvelope(line)
	if err != nil {
		return Response[T]{}, err
	}

	resp := Response[T]{
		ID:      env.ID,
		Success: env.Success,
		Error:   env.Error,
		Message: env.Message,
		Device:  env.Device,
	}

	if len(env.Payload) > 0 && !bytes.Equal(env.Payload, []byte("null")) {
		payload := new(T)
		if err := json.Unmarshal(env.Payload, payload); err != nil {
			return Response[T]{}, fmt.Errorf("decode payload: %w", err)
		}
		resp.Payload = payload
	}

	return resp, nil
}
