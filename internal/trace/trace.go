// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package trace records the phases of a merge as events in the
// Chrome tracing format.
package trace

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

type T struct {
	Events []Event `json:"traceEvents"`
}

// Event is an event in the Chrome tracing format. The fields are
// mirrored exactly. For more details, see:
//	https://docs.google.com/document/d/1CvAClvFfyA5R-PhYUmn5OOQtYMH4h6I0nSsKchNAySU/preview
type Event struct {
	Pid  int                    `json:"pid"`
	Tid  int                    `json:"tid"`
	Ts   int64                  `json:"ts"`
	Ph   string                 `json:"ph"`
	Dur  int64                  `json:"dur,omitempty"`
	Name string                 `json:"name"`
	Cat  string                 `json:"cat,omitempty"`
	Args map[string]interface{} `json:"args"`
}

func (t *T) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	return enc.Encode(t)
}

func (t *T) Decode(r io.Reader) error {
	dec := json.NewDecoder(r)
	return dec.Decode(t)
}

// A Recorder accumulates complete ("X") events. It is safe for
// concurrent use. A nil Recorder records nothing.
type Recorder struct {
	start time.Time
	mu    sync.Mutex
	t     T
}

// NewRecorder returns a recorder whose timestamps are relative to
// now.
func NewRecorder() *Recorder {
	return &Recorder{start: time.Now()}
}

func micros(d time.Duration) int64 {
	return int64(d / time.Microsecond)
}

// Span begins an event on track tid and returns a function that ends
// it. Args, which may be nil, are attached to the event.
func (r *Recorder) Span(cat, name string, tid int, args map[string]interface{}) (end func()) {
	if r == nil {
		return func() {}
	}
	begin := time.Now()
	return func() {
		ev := Event{
			Pid:  1,
			Tid:  tid,
			Ts:   micros(begin.Sub(r.start)),
			Ph:   "X",
			Dur:  micros(time.Since(begin)),
			Name: name,
			Cat:  cat,
			Args: args,
		}
		r.mu.Lock()
		r.t.Events = append(r.t.Events, ev)
		r.mu.Unlock()
	}
}

// Trace returns the events recorded so far.
func (r *Recorder) Trace() *T {
	if r == nil {
		return &T{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return &T{Events: append([]Event(nil), r.t.Events...)}
}
