package terminal

import (
	"bytes"
	"io"

	"github.com/stemsi/exstem-engine/internal/engine"
)

var (
	focusIn  = []byte("\x1b[I")
	focusOut = []byte("\x1b[O")
)

// focusReader strips focus reports from terminal input and turns them into
// focus and blur signals. Sequences split across reads are held back until
// complete.
type focusReader struct {
	r       io.Reader
	emit    func(engine.SignalKind)
	pending []byte // incomplete escape sequence
	ready   []byte // filtered bytes not yet returned
	buf     []byte
}

// Input wraps the terminal input so focus reports reach the engine instead of
// the line editor.
func (p *Provider) Input(r io.Reader) io.Reader {
	return &focusReader{r: r, emit: p.emit, buf: make([]byte, 256)}
}

func (f *focusReader) Read(b []byte) (int, error) {
	for len(f.ready) == 0 {
		n, err := f.r.Read(f.buf)
		data := append(f.pending, f.buf[:n]...)
		f.ready, f.pending = f.scan(data)
		if err != nil {
			f.ready = append(f.ready, f.pending...)
			f.pending = nil
			if len(f.ready) == 0 {
				return 0, err
			}
			break
		}
	}

	n := copy(b, f.ready)
	f.ready = f.ready[n:]
	return n, nil
}

// scan removes complete focus sequences and returns a possibly incomplete
// trailing prefix separately.
func (f *focusReader) scan(data []byte) (out, rest []byte) {
	out = make([]byte, 0, len(data))
	for len(data) > 0 {
		i := bytes.IndexByte(data, 0x1b)
		if i < 0 {
			out = append(out, data...)
			break
		}
		out = append(out, data[:i]...)
		data = data[i:]

		switch {
		case bytes.HasPrefix(data, focusIn):
			f.emit(engine.SignalFocus)
			data = data[len(focusIn):]
		case bytes.HasPrefix(data, focusOut):
			f.emit(engine.SignalBlur)
			data = data[len(focusOut):]
		case len(data) < len(focusIn) && (bytes.HasPrefix(focusIn, data) || bytes.HasPrefix(focusOut, data)):
			return out, append([]byte(nil), data...)
		default:
			out = append(out, data[0])
			data = data[1:]
		}
	}
	return out, nil
}
