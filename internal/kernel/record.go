package kernel

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// PerfRecord is one fully configured way to run a kernel on one operator
// shape. Implementations are pointer types so they can be decoded.
type PerfRecord interface {
	// Kind discriminates record types; a kernel only accepts its own.
	Kind() string
	// Time is the measured milliseconds, tune.Unmeasured if never measured.
	Time() float64
	WorkspaceBytes() int
}

// BaseKind is the kind of BaseRecord.
const BaseKind = "base"

// BaseRecord is the record of kernels without a configuration space.
type BaseRecord struct {
	TimeMs float64 `json:"time_ms"`
}

func (r *BaseRecord) Kind() string        { return BaseKind }
func (r *BaseRecord) Time() float64       { return r.TimeMs }
func (r *BaseRecord) WorkspaceBytes() int { return 0 }

// RecordAs returns rec as T. A record of another type is a wiring defect
// and panics.
func RecordAs[T PerfRecord](rec PerfRecord) T {
	r, ok := rec.(T)
	if !ok {
		var want T
		panic(&Error{
			Kind:    KindConfig,
			Op:      "RecordAs",
			Message: fmt.Sprintf("record %T (kind %q) passed where %s is expected", rec, kindOf(rec), reflect.TypeOf(want)),
		})
	}
	return r
}

func kindOf(rec PerfRecord) string {
	if rec == nil {
		return ""
	}
	return rec.Kind()
}

var (
	decodersMu sync.RWMutex
	decoders   = map[string]func() PerfRecord{
		BaseKind: func() PerfRecord { return &BaseRecord{} },
	}
)

// RegisterRecord makes a record kind decodable. newRecord returns a fresh
// zero record of that kind.
func RegisterRecord(kind string, newRecord func() PerfRecord) {
	decodersMu.Lock()
	defer decodersMu.Unlock()
	decoders[kind] = newRecord
}

// EncodeRecord serializes rec as JSON.
func EncodeRecord(rec PerfRecord) ([]byte, error) {
	return json.Marshal(rec)
}

// DecodeRecord restores a record of the given kind from JSON.
func DecodeRecord(kind string, payload []byte) (PerfRecord, error) {
	decodersMu.RLock()
	newRecord, ok := decoders[kind]
	decodersMu.RUnlock()
	if !ok {
		return nil, Errorf(KindConfig, "DecodeRecord", "unknown record kind %q", kind)
	}
	rec := newRecord()
	if err := json.Unmarshal(payload, rec); err != nil {
		return nil, fmt.Errorf("decode %s record: %w", kind, err)
	}
	return rec, nil
}
