// Package stream decodes the framed `data: <json>` replies of the chat backend.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/zhouzirui/docchat/internal/metrics"
	"github.com/zhouzirui/docchat/internal/model/chat"
)

const (
	readSize = 4096
	// longest frame separator minus one; the scan restarts this far back so a
	// separator split across two chunks is still found.
	separatorOverlap = 3
)

var (
	lf   = []byte("\n\n")
	crlf = []byte("\r\n\r\n")
)

// FrameDecodeError describes a frame whose payload was not valid JSON.
// It is logged and counted, never returned to callers.
type FrameDecodeError struct {
	Payload string
	Err     error
}

func (e *FrameDecodeError) Error() string {
	return fmt.Sprintf("decode stream frame %q: %v", e.Payload, e.Err)
}

func (e *FrameDecodeError) Unwrap() error { return e.Err }

// Decoder turns ragged chunks of a framed stream into events. Each frame is
// decoded exactly once; an incomplete trailing frame is kept for the next chunk.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	logger  *zap.Logger
	buf     []byte
	scan    int
	skipped int
}

// NewDecoder returns an empty decoder.
func NewDecoder(logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{logger: logger.Named("stream")}
}

// Feed appends chunk to the carry-over buffer and returns the events of every
// frame completed by it, in order.
func (d *Decoder) Feed(chunk []byte) []chat.StreamEvent {
	d.buf = append(d.buf, chunk...)

	var events []chat.StreamEvent
	start := 0
	for {
		from := d.scan - separatorOverlap
		if from < start {
			from = start
		}
		idx, sepLen := indexSeparator(d.buf[from:])
		if idx < 0 {
			d.scan = len(d.buf)
			break
		}
		end := from + idx
		if ev, ok := d.decodeFrame(d.buf[start:end]); ok {
			events = append(events, ev)
		}
		start = end + sepLen
		d.scan = start
	}

	if start > 0 {
		n := copy(d.buf, d.buf[start:])
		d.buf = d.buf[:n]
		d.scan -= start
	}
	return events
}

// Close ends the stream. A partial frame still buffered is discarded.
func (d *Decoder) Close() {
	if len(bytes.TrimSpace(d.buf)) > 0 {
		d.logger.Debug("discarding incomplete trailing frame", zap.Int("bytes", len(d.buf)))
	}
	d.buf = d.buf[:0]
	d.scan = 0
}

// Skipped reports how many frames were dropped as undecodable.
func (d *Decoder) Skipped() int {
	return d.skipped
}

// Run reads r until EOF and hands every decoded event to emit. It stops early
// when ctx is cancelled or emit returns an error.
func (d *Decoder) Run(ctx context.Context, r io.Reader, emit func(chat.StreamEvent) error) error {
	defer d.Close()

	chunk := make([]byte, readSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := r.Read(chunk)
		if n > 0 {
			for _, ev := range d.Feed(chunk[:n]) {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := emit(ev); err != nil {
					return err
				}
			}
		}

		if errors.Is(readErr, io.EOF) {
			return nil
		}
		if readErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("read stream: %w", readErr)
		}
	}
}

func (d *Decoder) decodeFrame(frame []byte) (chat.StreamEvent, bool) {
	payload, ok := framePayload(frame)
	if !ok {
		return chat.StreamEvent{}, false
	}

	if string(payload) == "[DONE]" {
		metrics.StreamFrames.WithLabelValues("decoded").Inc()
		return chat.StreamEvent{Kind: chat.EventDone}, true
	}

	var f chat.Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		d.skipped++
		metrics.StreamFrames.WithLabelValues("skipped").Inc()
		d.logger.Warn("skipping malformed stream frame", zap.Error(&FrameDecodeError{Payload: string(payload), Err: err}))
		return chat.StreamEvent{}, false
	}

	ev, ok := eventFromFrame(f)
	if !ok {
		d.logger.Debug("ignoring empty stream frame", zap.ByteString("payload", payload))
		return chat.StreamEvent{}, false
	}
	metrics.StreamFrames.WithLabelValues("decoded").Inc()
	return ev, true
}

func eventFromFrame(f chat.Frame) (chat.StreamEvent, bool) {
	ev := chat.StreamEvent{Context: f.Context}

	switch {
	case f.Error != "":
		ev.Kind = chat.EventError
		ev.Error = f.Error
	case f.Answer != nil || f.Done:
		ev.Kind = chat.EventDone
		ev.Answer = f.Answer
		ev.Token = firstOf(f.Token, f.Response)
	case f.Token != nil || f.Response != nil:
		ev.Kind = chat.EventToken
		ev.Token = firstOf(f.Token, f.Response)
	case f.Context != nil:
		ev.Kind = chat.EventContext
	default:
		return chat.StreamEvent{}, false
	}
	return ev, true
}

func firstOf(values ...*string) string {
	for _, v := range values {
		if v != nil {
			return *v
		}
	}
	return ""
}

// framePayload joins the data lines of one frame. Frames without data lines
// (comments, keep-alives) have no payload.
func framePayload(frame []byte) ([]byte, bool) {
	var payload []byte
	found := false
	for _, line := range bytes.Split(frame, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		value := bytes.TrimPrefix(line[len("data:"):], []byte(" "))
		if found {
			payload = append(payload, '\n')
		}
		payload = append(payload, value...)
		found = true
	}
	return bytes.TrimSpace(payload), found
}

func indexSeparator(b []byte) (int, int) {
	i := bytes.Index(b, lf)
	j := bytes.Index(b, crlf)
	switch {
	case i < 0 && j < 0:
		return -1, 0
	case j < 0 || (i >= 0 && i < j):
		return i, len(lf)
	default:
		return j, len(crlf)
	}
}
