// Package event defines the closed set of notebook coordination events.
//
// Every state change in the system is one of these events. The set is a
// closed tagged sum: each type tag maps to exactly one payload struct, and
// the materializer dispatches over it exhaustively. Adding a field to a
// payload requires a new version tag - tags are versioned precisely so that
// old events never get silently reinterpreted.
package event

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/noteflowhq/noteflow/internal/canon"
)

// Type is a versioned event type tag, e.g. "v1.CellCreated".
type Type string

// Event type tags. The "v1." prefix is the payload schema version.
const (
	TypeNotebookInitialized  Type = "v1.NotebookInitialized"
	TypeNotebookTitleChanged Type = "v1.NotebookTitleChanged"

	TypeCellCreated           Type = "v1.CellCreated"
	TypeCellSourceChanged     Type = "v1.CellSourceChanged"
	TypeCellTypeChanged       Type = "v1.CellTypeChanged"
	TypeCellMoved             Type = "v1.CellMoved"
	TypeCellVisibilityToggled Type = "v1.CellVisibilityToggled"
	TypeCellDeleted           Type = "v1.CellDeleted"

	TypeExecutionRequested Type = "v1.ExecutionRequested"
	TypeExecutionAssigned  Type = "v1.ExecutionAssigned"
	TypeExecutionStarted   Type = "v1.ExecutionStarted"
	TypeExecutionCompleted Type = "v1.ExecutionCompleted"
	TypeExecutionCancelled Type = "v1.ExecutionCancelled"

	TypeCellOutputAdded    Type = "v1.CellOutputAdded"
	TypeCellOutputsCleared Type = "v1.CellOutputsCleared"

	TypeKernelSessionStarted    Type = "v1.KernelSessionStarted"
	TypeKernelSessionHeartbeat  Type = "v1.KernelSessionHeartbeat"
	TypeKernelSessionTerminated Type = "v1.KernelSessionTerminated"
)

// Payload is implemented by every event payload struct.
// The interface is sealed: only types in this package satisfy it.
type Payload interface {
	EventType() Type
	sealed()
}

// Envelope is one event as it sits in the log: a payload plus the identity
// and ordering metadata the log owner assigned at append time.
//
// Position is the global total order - every derived table is a
// deterministic fold over envelopes in position order. ID is content-
// addressed over (nonce, type, payload): the nonce keeps distinct commits
// with identical payloads apart, and a redelivery of the same commit still
// collapses to exactly-once application.
type Envelope struct {
	Position int64   `json:"position"`
	ID       string  `json:"id"`
	Type     Type    `json:"type"`
	Payload  Payload `json:"-"`
}

// Encode serializes a payload to its JSON wire form.
func Encode(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", p.EventType(), err)
	}
	return data, nil
}

// Decode parses a payload of the given type tag. Unknown tags are an error:
// the event set is closed, so an unrecognized tag means a writer is ahead of
// this reader's schema version.
func Decode(t Type, data []byte) (Payload, error) {
	p, err := newPayload(t)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return p, nil
}

// newPayload returns a zero payload for the tag. Exhaustive over the closed
// event set.
func newPayload(t Type) (Payload, error) {
	switch t {
	case TypeNotebookInitialized:
		return &NotebookInitialized{}, nil
	case TypeNotebookTitleChanged:
		return &NotebookTitleChanged{}, nil
	case TypeCellCreated:
		return &CellCreated{}, nil
	case TypeCellSourceChanged:
		return &CellSourceChanged{}, nil
	case TypeCellTypeChanged:
		return &CellTypeChanged{}, nil
	case TypeCellMoved:
		return &CellMoved{}, nil
	case TypeCellVisibilityToggled:
		return &CellVisibilityToggled{}, nil
	case TypeCellDeleted:
		return &CellDeleted{}, nil
	case TypeExecutionRequested:
		return &ExecutionRequested{}, nil
	case TypeExecutionAssigned:
		return &ExecutionAssigned{}, nil
	case TypeExecutionStarted:
		return &ExecutionStarted{}, nil
	case TypeExecutionCompleted:
		return &ExecutionCompleted{}, nil
	case TypeExecutionCancelled:
		return &ExecutionCancelled{}, nil
	case TypeCellOutputAdded:
		return &CellOutputAdded{}, nil
	case TypeCellOutputsCleared:
		return &CellOutputsCleared{}, nil
	case TypeKernelSessionStarted:
		return &KernelSessionStarted{}, nil
	case TypeKernelSessionHeartbeat:
		return &KernelSessionHeartbeat{}, nil
	case TypeKernelSessionTerminated:
		return &KernelSessionTerminated{}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
}

// ID computes the content-addressed event ID for one commit of a payload.
// The nonce is the committer's per-commit identity: retries of the same
// commit reuse it, distinct commits never share it.
func ID(nonce string, p Payload) (string, error) {
	fields, err := payloadFields(p)
	if err != nil {
		return "", err
	}
	return canon.EventID(string(p.EventType()), nonce, fields)
}

// payloadFields converts a payload struct to a generic map for canonical
// hashing. Going through JSON keeps the hashed field names identical to the
// wire field names.
func payloadFields(p Payload) (map[string]any, error) {
	data, err := Encode(p)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber() // preserve large integers for canonical JSON
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("payload fields for %s: %w", p.EventType(), err)
	}
	return fields, nil
}
