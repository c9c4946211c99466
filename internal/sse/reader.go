// Package sse reads server-sent event streams.
package sse

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

// DefaultEvent is the event name of frames that carry no "event:" field.
const DefaultEvent = "message"

// maxLineSize bounds a single line of the stream. A frame containing a longer
// line is dropped whole; the stream keeps going.
const maxLineSize = 1 << 20

// Event is one dispatched SSE frame.
type Event struct {
	Name string
	ID   string
	Data []byte
}

// Reader splits an event stream into Events.
type Reader struct {
	br *bufio.Reader
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 4096)}
}

// Next blocks until a complete frame is read. Comment lines are skipped.
// A frame with neither an event name nor data is ignored, and so is a frame
// with an oversized line.
// io.EOF is returned when the stream ends cleanly.
func (r *Reader) Next() (Event, error) {
	var (
		ev      Event
		data    bytes.Buffer
		hasData bool
		drop    bool
	)
	for {
		line, oversized, err := r.readLine()
		if err != nil {
			return Event{}, err
		}
		if oversized {
			drop = true
			continue
		}

		if line == "" {
			if drop {
				log.Warn().Int("limit", maxLineSize).Msg("dropping oversized stream frame")
				ev, hasData, drop = Event{}, false, false
				data.Reset()
				continue
			}
			if !hasData && ev.Name == "" {
				continue
			}
			if ev.Name == "" {
				ev.Name = DefaultEvent
			}
			ev.Data = data.Bytes()
			return ev, nil
		}
		if drop || strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			ev.Name = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "id":
			ev.ID = value
		}
	}
}

// readLine returns the next line without its terminator. Lines longer than
// maxLineSize are consumed and reported as oversized.
func (r *Reader) readLine() (string, bool, error) {
	var (
		buf       []byte
		oversized bool
	)
	for {
		chunk, isPrefix, err := r.br.ReadLine()
		if err != nil {
			return "", false, err
		}
		if !oversized {
			if len(buf)+len(chunk) > maxLineSize {
				oversized, buf = true, nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if !isPrefix {
			return string(buf), oversized, nil
		}
	}
}
