package progress

import (
	"encoding/json"
	"io"
	"sync"
)

// JSONL writes one JSON object per event to w (default stdout), for
// CI/machine consumption.
type JSONL struct {
	mu  sync.Mutex
	w   io.Writer
	enc *json.Encoder
}

// NewJSONL returns a Sink writing newline-delimited JSON events to w.
func NewJSONL(w io.Writer) *JSONL {
	return &JSONL{w: w, enc: json.NewEncoder(w)}
}

type jsonlRecord struct {
	Node     string `json:"node"`
	Phase    string `json:"phase"`
	Status   string `json:"status"`
	Duration string `json:"duration,omitempty"`
	Rows     int64  `json:"rows,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (j *JSONL) Emit(e Event) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec := jsonlRecord{
		Node:   e.Node.String(),
		Phase:  e.Phase.String(),
		Status: e.Status.String(),
		Rows:   e.Rows,
		Error:  e.Err,
	}
	if e.Duration > 0 {
		rec.Duration = e.Duration.String()
	}
	// Encoding errors here would mean the underlying writer is broken
	// (e.g. a closed pipe); there is nothing more useful to do with
	// them than drop the event, since Emit has no error return.
	_ = j.enc.Encode(rec)
}

func (j *JSONL) Close() error { return nil }

var _ Sink = (*JSONL)(nil)
