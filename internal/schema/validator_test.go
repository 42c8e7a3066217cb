package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noteflowhq/noteflow/internal/event"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	require.NoError(t, err, "embedded schema must compile")
	return v
}

func TestValidate_AcceptsWellFormedPayloads(t *testing.T) {
	v := newValidator(t)

	cases := []struct {
		typ     event.Type
		payload string
	}{
		{event.TypeCellCreated, `{"cellId":"c1","cellType":"code","position":1024,"createdBy":"user-1"}`},
		{event.TypeExecutionRequested, `{"queueId":"q1","cellId":"c1","cellType":"sql","executionCount":1,"priority":10,"requestedBy":"user-1"}`},
		{event.TypeExecutionAssigned, `{"queueId":"q1","kernelSessionId":"s1"}`},
		{event.TypeKernelSessionHeartbeat, `{"sessionId":"s1","status":"busy","timestampMs":1700000000000}`},
		{event.TypeCellOutputAdded, `{"outputId":"o1","cellId":"c1","outputType":"stream","data":{"text/plain":"hi"},"position":1}`},
		{event.TypeCellOutputsCleared, `{"cellId":"c1","clearedBy":"s1"}`},
	}

	for _, tc := range cases {
		assert.NoError(t, v.Validate(tc.typ, []byte(tc.payload)), "type %s", tc.typ)
	}
}

func TestValidate_RejectsMalformedPayloads(t *testing.T) {
	v := newValidator(t)

	cases := []struct {
		name    string
		typ     event.Type
		payload string
	}{
		{"missing field", event.TypeCellCreated, `{"cellId":"c1","cellType":"code"}`},
		{"empty primary key", event.TypeCellDeleted, `{"cellId":""}`},
		{"bad enum", event.TypeCellCreated, `{"cellId":"c1","cellType":"scala","position":0,"createdBy":"u"}`},
		{"extra field", event.TypeExecutionAssigned, `{"queueId":"q1","kernelSessionId":"s1","force":true}`},
		{"wrong type", event.TypeExecutionRequested, `{"queueId":"q1","cellId":"c1","cellType":"code","executionCount":"one","priority":1,"requestedBy":"u"}`},
		{"negative count", event.TypeExecutionRequested, `{"queueId":"q1","cellId":"c1","cellType":"code","executionCount":-1,"priority":1,"requestedBy":"u"}`},
		{"bad session status", event.TypeKernelSessionHeartbeat, `{"sessionId":"s1","status":"sleeping","timestampMs":1}`},
		{"not json", event.TypeCellDeleted, `{"cellId":`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Validate(tc.typ, []byte(tc.payload))
			require.Error(t, err)

			var verr *ValidationError
			assert.True(t, errors.As(err, &verr), "expected *ValidationError, got %T", err)
		})
	}
}

func TestValidate_UnknownType(t *testing.T) {
	v := newValidator(t)

	err := v.Validate(event.Type("v2.CellCreated"), []byte(`{}`))
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Message, "unknown event type")
}

func TestValidate_CoversEveryEventType(t *testing.T) {
	// Every tag the codec knows must have a schema definition; a type that
	// can be decoded but not validated could never be appended.
	v := newValidator(t)

	payloads := []event.Payload{
		&event.NotebookInitialized{NotebookID: "n1", Title: "t", OwnerID: "u"},
		&event.NotebookTitleChanged{NotebookID: "n1", Title: "t2"},
		&event.CellCreated{CellID: "c1", CellType: event.CellKindAI, Position: 1024, CreatedBy: "u"},
		&event.CellSourceChanged{CellID: "c1", Source: "SELECT 1"},
		&event.CellTypeChanged{CellID: "c1", CellType: event.CellKindMarkdown},
		&event.CellMoved{CellID: "c1", Position: 512},
		&event.CellVisibilityToggled{CellID: "c1", Field: event.VisibilityAIContext, Visible: true},
		&event.CellDeleted{CellID: "c1"},
		&event.ExecutionRequested{QueueID: "q1", CellID: "c1", CellType: event.CellKindCode, ExecutionCount: 1, Priority: 5, RequestedBy: "u"},
		&event.ExecutionAssigned{QueueID: "q1", KernelSessionID: "s1"},
		&event.ExecutionStarted{QueueID: "q1", CellID: "c1", KernelSessionID: "s1", StartedAtMs: 1},
		&event.ExecutionCompleted{QueueID: "q1", CellID: "c1", Status: event.CompletionSuccess, DurationMs: 10},
		&event.ExecutionCancelled{QueueID: "q1", CellID: "c1", Reason: event.CancelReasonSessionLost},
		&event.CellOutputAdded{OutputID: "o1", CellID: "c1", OutputType: event.OutputTypeError, Data: map[string]string{"ename": "ValueError"}, Position: 1},
		&event.CellOutputsCleared{CellID: "c1", ClearedBy: "s1"},
		&event.KernelSessionStarted{SessionID: "s1", KernelID: "k1", KernelType: "python", CanExecuteCode: true, StartedAtMs: 1},
		&event.KernelSessionHeartbeat{SessionID: "s1", Status: event.SessionReady, TimestampMs: 2},
		&event.KernelSessionTerminated{SessionID: "s1", Reason: "timeout", TimestampMs: 3},
	}

	for _, p := range payloads {
		assert.NoError(t, v.ValidatePayload(p), "type %s", p.EventType())
	}
}
