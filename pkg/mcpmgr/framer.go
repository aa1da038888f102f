package mcpmgr

import "bytes"

// DefaultMaxLineBytes bounds a single buffered partial line.
const DefaultMaxLineBytes = 8 << 20

// LineFramer turns an arbitrarily chunked byte stream into newline-delimited
// frames. It is not safe for concurrent use; each transport owns one.
type LineFramer struct {
	buf []byte
	// MaxLineBytes caps the partial line kept between Feed calls. Zero means
	// DefaultMaxLineBytes.
	MaxLineBytes int
	// OnOverflow, when set, is told how many bytes were discarded because a
	// line outgrew MaxLineBytes.
	OnOverflow func(discarded int)
}

// Feed appends chunk and returns every complete, non-blank line in arrival
// order. The newline (and a trailing carriage return) is stripped. Bytes after
// the last newline are kept for the next call.
func (f *LineFramer) Feed(chunk []byte) [][]byte {
	f.buf = append(f.buf, chunk...)
	var lines [][]byte
	for {
		idx := bytes.IndexByte(f.buf, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSuffix(f.buf[:idx], []byte{'\r'})
		f.buf = f.buf[idx+1:]
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		lines = append(lines, bytes.Clone(line))
	}
	if limit := f.maxLine(); len(f.buf) > limit {
		if f.OnOverflow != nil {
			f.OnOverflow(len(f.buf))
		}
		f.buf = nil
	}
	if len(f.buf) == 0 {
		f.buf = nil
	}
	return lines
}

// Buffered reports the size of the retained partial line.
func (f *LineFramer) Buffered() int { return len(f.buf) }

// Reset drops any retained partial line.
func (f *LineFramer) Reset() { f.buf = nil }

func (f *LineFramer) maxLine() int {
	if f.MaxLineBytes > 0 {
		return f.MaxLineBytes
	}
	return DefaultMaxLineBytes
}
