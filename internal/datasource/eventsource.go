package datasource

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// streamEvent is one parsed server-sent event.
type streamEvent struct {
	name string
	id   string
	data string
}

// eventDecoder reads the subset of the SSE protocol used by the flag
// service: event, data, id and retry fields, comment lines, blank-line
// dispatch, and multi-line data concatenation.
type eventDecoder struct {
	reader *bufio.Reader
	// retry holds the most recent server-sent reconnection directive, or 0.
	retry time.Duration
}

func newEventDecoder(r io.Reader) *eventDecoder {
	// A large buffer handles `put` events carrying a full data snapshot on
	// one data line.
	return &eventDecoder{reader: bufio.NewReaderSize(r, 1<<20)}
}

// next blocks until a complete event has been read. It returns the
// underlying read error (io.EOF on orderly close) once no further events can
// be produced.
func (d *eventDecoder) next() (streamEvent, error) {
	var (
		name      string
		id        string
		dataLines []string
	)

	for {
		line, err := d.reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if len(dataLines) > 0 {
				return streamEvent{name: name, id: id, data: strings.Join(dataLines, "\n")}, nil
			}
			name = ""
			dataLines = nil
		case strings.HasPrefix(line, ":"):
			// Comment line; servers send these as keepalives.
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, "id:"):
			id = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "retry:"):
			if ms, parseErr := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "retry:"))); parseErr == nil && ms > 0 {
				d.retry = time.Duration(ms) * time.Millisecond
			}
		}

		if err != nil {
			return streamEvent{}, err
		}
	}
}
