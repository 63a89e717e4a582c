package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"signalfusion/internal/model"
)

// JSONLines writes one {"record":...,"decision":...} object per line.
type JSONLines struct {
	mu  sync.Mutex
	w   *bufio.Writer
	enc *json.Encoder
	c   io.Closer
}

// NewJSONLines writes to w; Close closes w when it is an io.Closer.
func NewJSONLines(w io.Writer) *JSONLines {
	bw := bufio.NewWriter(w)
	j := &JSONLines{w: bw, enc: json.NewEncoder(bw)}
	if c, ok := w.(io.Closer); ok {
		j.c = c
	}
	return j
}

type line struct {
	Record   model.FeatureRecord `json:"record"`
	Decision *model.Decision     `json:"decision,omitempty"`
}

func (j *JSONLines) Emit(_ context.Context, rec model.FeatureRecord, dec *model.Decision) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(line{Record: rec, Decision: dec})
}

func (j *JSONLines) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.w.Flush(); err != nil {
		return err
	}
	if j.c != nil {
		return j.c.Close()
	}
	return nil
}
