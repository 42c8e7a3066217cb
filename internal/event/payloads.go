package event

// CellKind is the execution kind of a cell.
type CellKind string

const (
	CellKindCode     CellKind = "code"
	CellKindMarkdown CellKind = "markdown"
	CellKindSQL      CellKind = "sql"
	CellKindAI       CellKind = "ai"
)

// Visibility field names for CellVisibilityToggled.
const (
	VisibilitySource    = "source"
	VisibilityOutput    = "output"
	VisibilityAIContext = "aiContext"
)

// Output types carried by CellOutputAdded.
const (
	OutputTypeStream        = "stream"
	OutputTypeExecuteResult = "execute_result"
	OutputTypeDisplayData   = "display_data"
	OutputTypeError         = "error"
)

// Execution completion statuses.
const (
	CompletionSuccess = "success"
	CompletionError   = "error"
)

// Session statuses reportable via heartbeat.
const (
	SessionReady = "ready"
	SessionBusy  = "busy"
)

// Well-known cancellation reasons. Workers may also supply free-form
// reasons; "session-lost" is the one the coordinator itself emits.
const (
	CancelReasonSessionLost   = "session-lost"
	CancelReasonUserRequested = "user-requested"
)

// NotebookInitialized creates the notebook record. Committed once, first.
type NotebookInitialized struct {
	NotebookID string `json:"notebookId"`
	Title      string `json:"title"`
	OwnerID    string `json:"ownerId"`
}

// NotebookTitleChanged renames the notebook.
type NotebookTitleChanged struct {
	NotebookID string `json:"notebookId"`
	Title      string `json:"title"`
}

// CellCreated inserts a cell. Position is a gapped integer ordering key;
// fractional insertion takes the midpoint of its neighbors.
type CellCreated struct {
	CellID    string   `json:"cellId"`
	CellType  CellKind `json:"cellType"`
	Position  int64    `json:"position"`
	CreatedBy string   `json:"createdBy"`
}

// CellSourceChanged replaces a cell's source text.
type CellSourceChanged struct {
	CellID string `json:"cellId"`
	Source string `json:"source"`
}

// CellTypeChanged switches a cell between code/markdown/sql/ai.
type CellTypeChanged struct {
	CellID   string   `json:"cellId"`
	CellType CellKind `json:"cellType"`
}

// CellMoved changes a cell's ordering key.
type CellMoved struct {
	CellID   string `json:"cellId"`
	Position int64  `json:"position"`
}

// CellVisibilityToggled flips one of the cell's visibility flags.
// Field is one of the Visibility* constants.
type CellVisibilityToggled struct {
	CellID  string `json:"cellId"`
	Field   string `json:"field"`
	Visible bool   `json:"visible"`
}

// CellDeleted tombstones a cell. Nothing is removed from the log; the
// materializer drops the row and its outputs.
type CellDeleted struct {
	CellID string `json:"cellId"`
}

// ExecutionRequested enqueues one execution of a cell.
//
// CellType is denormalized into the payload so the scheduler's capability
// matching never has to consult the cells table mid-reduction.
type ExecutionRequested struct {
	QueueID        string   `json:"queueId"`
	CellID         string   `json:"cellId"`
	CellType       CellKind `json:"cellType"`
	ExecutionCount int64    `json:"executionCount"`
	Priority       int64    `json:"priority"`
	RequestedBy    string   `json:"requestedBy"`
}

// ExecutionAssigned claims a pending queue entry for a session. The first
// assignment to reach a pending entry wins; later ones are soft conflicts.
type ExecutionAssigned struct {
	QueueID         string `json:"queueId"`
	KernelSessionID string `json:"kernelSessionId"`
}

// ExecutionStarted marks a claimed entry as running.
type ExecutionStarted struct {
	QueueID         string `json:"queueId"`
	CellID          string `json:"cellId"`
	KernelSessionID string `json:"kernelSessionId"`
	StartedAtMs     int64  `json:"startedAtMs"`
}

// ExecutionCompleted finishes a run. Status is CompletionSuccess or
// CompletionError; error details travel separately as an error Output.
type ExecutionCompleted struct {
	QueueID    string `json:"queueId"`
	CellID     string `json:"cellId"`
	Status     string `json:"status"`
	DurationMs int64  `json:"durationMs"`
}

// ExecutionCancelled terminates a queue entry without running it to
// completion. The cell returns to idle.
type ExecutionCancelled struct {
	QueueID string `json:"queueId"`
	CellID  string `json:"cellId"`
	Reason  string `json:"reason"`
}

// CellOutputAdded appends one output fragment to a cell. Position orders
// fragments within the cell explicitly - stdout chunks interleave by
// position, not by commit time.
//
// Data maps media type to payload text, e.g. {"text/plain": "42"}. Error
// outputs carry {"ename": ..., "evalue": ..., "traceback": ...} under
// application/vnd.noteflow.error+json.
type CellOutputAdded struct {
	OutputID   string            `json:"outputId"`
	CellID     string            `json:"cellId"`
	OutputType string            `json:"outputType"`
	Data       map[string]string `json:"data"`
	Position   int64             `json:"position"`
}

// CellOutputsCleared drops all outputs for a cell. Workers commit this
// immediately before the first output of a fresh run, so stale output never
// coexists with a new run's fragments.
type CellOutputsCleared struct {
	CellID    string `json:"cellId"`
	ClearedBy string `json:"clearedBy"`
}

// KernelSessionStarted registers a live worker session.
type KernelSessionStarted struct {
	SessionID      string `json:"sessionId"`
	KernelID       string `json:"kernelId"`
	KernelType     string `json:"kernelType"`
	CanExecuteCode bool   `json:"canExecuteCode"`
	CanExecuteSQL  bool   `json:"canExecuteSql"`
	CanExecuteAI   bool   `json:"canExecuteAi"`
	StartedAtMs    int64  `json:"startedAtMs"`
}

// KernelSessionHeartbeat refreshes a session's liveness. Status is
// SessionReady or SessionBusy.
type KernelSessionHeartbeat struct {
	SessionID   string `json:"sessionId"`
	Status      string `json:"status"`
	TimestampMs int64  `json:"timestampMs"`
}

// KernelSessionTerminated retires a session. Reason "timeout" is committed
// by the liveness monitor; workers commit their own reason on shutdown.
type KernelSessionTerminated struct {
	SessionID   string `json:"sessionId"`
	Reason      string `json:"reason"`
	TimestampMs int64  `json:"timestampMs"`
}

func (*NotebookInitialized) EventType() Type     { return TypeNotebookInitialized }
func (*NotebookTitleChanged) EventType() Type    { return TypeNotebookTitleChanged }
func (*CellCreated) EventType() Type             { return TypeCellCreated }
func (*CellSourceChanged) EventType() Type       { return TypeCellSourceChanged }
func (*CellTypeChanged) EventType() Type         { return TypeCellTypeChanged }
func (*CellMoved) EventType() Type               { return TypeCellMoved }
func (*CellVisibilityToggled) EventType() Type   { return TypeCellVisibilityToggled }
func (*CellDeleted) EventType() Type             { return TypeCellDeleted }
func (*ExecutionRequested) EventType() Type      { return TypeExecutionRequested }
func (*ExecutionAssigned) EventType() Type       { return TypeExecutionAssigned }
func (*ExecutionStarted) EventType() Type        { return TypeExecutionStarted }
func (*ExecutionCompleted) EventType() Type      { return TypeExecutionCompleted }
func (*ExecutionCancelled) EventType() Type      { return TypeExecutionCancelled }
func (*CellOutputAdded) EventType() Type         { return TypeCellOutputAdded }
func (*CellOutputsCleared) EventType() Type      { return TypeCellOutputsCleared }
func (*KernelSessionStarted) EventType() Type    { return TypeKernelSessionStarted }
func (*KernelSessionHeartbeat) EventType() Type  { return TypeKernelSessionHeartbeat }
func (*KernelSessionTerminated) EventType() Type { return TypeKernelSessionTerminated }

func (*NotebookInitialized) sealed()     {}
func (*NotebookTitleChanged) sealed()    {}
func (*CellCreated) sealed()             {}
func (*CellSourceChanged) sealed()       {}
func (*CellTypeChanged) sealed()         {}
func (*CellMoved) sealed()               {}
func (*CellVisibilityToggled) sealed()   {}
func (*CellDeleted) sealed()             {}
func (*ExecutionRequested) sealed()      {}
func (*ExecutionAssigned) sealed()       {}
func (*ExecutionStarted) sealed()        {}
func (*ExecutionCompleted) sealed()      {}
func (*ExecutionCancelled) sealed()      {}
func (*CellOutputAdded) sealed()         {}
func (*CellOutputsCleared) sealed()      {}
func (*KernelSessionStarted) sealed()    {}
func (*KernelSessionHeartbeat) sealed()  {}
func (*KernelSessionTerminated) sealed() {}
