// Package frame reassembles provider records from a byte stream whose chunk
// boundaries are arbitrary. One Decoder serves exactly one connection.
package frame

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// MaxPending bounds the carry-over buffer of a connection.
const MaxPending = 1 << 20

// Config describes the framing of one wire format.
type Config struct {
	// Separator splits records, e.g. "data: " or "event: completion".
	Separator string
	// Terminal is the literal record that ends the stream, e.g. "[DONE]". Optional.
	Terminal string
	// Extract narrows a trimmed record down to its payload. Optional.
	Extract func(record string) string
}

// Frame is one decoded record.
type Frame[T any] struct {
	Value    T
	Terminal bool
}

// ParseFunc parses one record payload.
type ParseFunc[T any] func(payload []byte) (T, error)

// Decoder splits chunks into records and parses them, carrying incomplete
// records over to the next chunk.
type Decoder[T any] struct {
	cfg     Config
	parse   ParseFunc[T]
	log     logrus.FieldLogger
	pending string
}

// New creates a decoder. A nil logger discards warnings.
func New[T any](cfg Config, parse ParseFunc[T], log logrus.FieldLogger) *Decoder[T] {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Decoder[T]{cfg: cfg, parse: parse, log: log}
}

// Feed consumes the next chunk and returns the records it completes, in order.
func (d *Decoder[T]) Feed(chunk []byte) []Frame[T] {
	return d.decode(d.pending+string(chunk), false)
}

// Flush decodes whatever is still buffered once the stream has ended.
// Records that still fail to parse are dropped.
func (d *Decoder[T]) Flush() []Frame[T] {
	if d.pending == "" {
		return nil
	}
	return d.decode(d.pending, true)
}

// Pending returns the number of buffered bytes.
func (d *Decoder[T]) Pending() int { return len(d.pending) }

func (d *Decoder[T]) decode(buf string, final bool) []Frame[T] {
	segs := strings.Split(buf, d.cfg.Separator)

	// A chunk may stop in the middle of the next separator; hold that part back.
	var tail string
	if !final {
		last := len(segs) - 1
		segs[last], tail = d.splitTail(segs[last])
	}

	var (
		out   []Frame[T]
		carry string
	)
	for i := 0; i < len(segs); {
		rec := d.record(segs[i])
		if rec == "" {
			i++
			continue
		}
		if d.complete(segs, i, final) {
			if f, ok := d.frame(rec); ok {
				out = append(out, f)
				i++
				continue
			}
		}
		// The separator may occur inside a JSON string: retry with the following segments joined back.
		if j, f, ok := d.join(segs, i, final); ok {
			out = append(out, f)
			i = j + 1
			continue
		}

		if final || d.parsesLater(segs, i+1, final) {
			d.drop(rec)
			i++
			continue
		}
		carry = strings.Join(segs[i:], d.cfg.Separator)
		break
	}

	d.pending = ""
	if pending := carry + tail; pending != "" {
		if len(pending) > MaxPending {
			d.log.WithField("bytes", len(pending)).Warn("frame: carry-over exceeds limit, dropping")
		} else {
			d.pending = pending
		}
	}
	return out
}

// splitTail splits a trailing proper prefix of the separator off seg.
func (d *Decoder[T]) splitTail(seg string) (string, string) {
	sep := d.cfg.Separator
	for k := len(sep) - 1; k > 0; k-- {
		if strings.HasSuffix(seg, sep[:k]) {
			return seg[:len(seg)-k], seg[len(seg)-k:]
		}
	}
	return seg, ""
}

func (d *Decoder[T]) record(seg string) string {
	rec := strings.TrimSpace(seg)
	if rec != "" && d.cfg.Extract != nil {
		rec = strings.TrimSpace(d.cfg.Extract(rec))
	}
	return rec
}

func (d *Decoder[T]) frame(rec string) (Frame[T], bool) {
	if d.cfg.Terminal != "" && rec == d.cfg.Terminal {
		return Frame[T]{Terminal: true}, true
	}
	v, err := d.parse([]byte(rec))
	if err != nil {
		return Frame[T]{}, false
	}
	return Frame[T]{Value: v}, true
}

// complete reports whether segment i holds a whole record. A record ends with
// the blank line closing its event, or at least with the line break before the
// next separator. A separator inside a JSON string never follows a line break,
// since strings cannot hold raw newlines. Until the stream has ended the last
// segment needs its blank line.
func (d *Decoder[T]) complete(segs []string, i int, final bool) bool {
	seg := segs[i]
	switch {
	case i < len(segs)-1:
		return strings.HasSuffix(seg, "\n")
	case final:
		return true
	default:
		return strings.Contains(seg, "\n\n") || strings.Contains(seg, "\r\n\r\n")
	}
}

func (d *Decoder[T]) join(segs []string, i int, final bool) (int, Frame[T], bool) {
	joined := segs[i]
	for j := i + 1; j < len(segs); j++ {
		joined += d.cfg.Separator + segs[j]
		if !d.complete(segs, j, final) {
			continue
		}
		if f, ok := d.frame(d.record(joined)); ok {
			return j, f, true
		}
	}
	return 0, Frame[T]{}, false
}

// parsesLater reports whether a whole record from segment i on parses.
func (d *Decoder[T]) parsesLater(segs []string, i int, final bool) bool {
	for ; i < len(segs); i++ {
		if !d.complete(segs, i, final) {
			continue
		}
		if rec := d.record(segs[i]); rec != "" {
			if _, ok := d.frame(rec); ok {
				return true
			}
		}
	}
	return false
}

func (d *Decoder[T]) drop(rec string) {
	const maxLogged = 200
	if len(rec) > maxLogged {
		rec = rec[:maxLogged] + "..."
	}
	d.log.WithField("record", rec).Warn("frame: dropping malformed record")
}

// FirstEvent keeps a record up to the blank line that ends its SSE event,
// discarding leading comment lines and whatever follows the event.
func FirstEvent(record string) string {
	for strings.HasPrefix(record, ":") {
		nl := strings.IndexByte(record, '\n')
		if nl < 0 {
			return ""
		}
		record = strings.TrimLeft(record[nl+1:], "\r\n")
	}
	if end := strings.Index(record, "\n\n"); end >= 0 {
		record = record[:end]
	}
	if end := strings.Index(record, "\r\n\r\n"); end >= 0 {
		record = record[:end]
	}
	return record
}

// DataLine extracts the payload of the first "data:" line of an SSE event.
// Anything after the blank line ending that event is ignored.
func DataLine(record string) string {
	idx := strings.Index(record, "data:")
	if idx < 0 {
		return record
	}
	return FirstEvent(record[idx+len("data:"):])
}
