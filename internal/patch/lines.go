package patch

import "bytes"

// Record is a non-owning view of one line of a larger buffer. Text keeps the
// terminating newline when the line has one.
type Record struct {
	Text   []byte
	Number int // 1-based line number in the source buffer
	Offset int // byte offset of Text in the source buffer
}

// HasNewline reports whether the line is terminated.
func (r Record) HasNewline() bool {
	return len(r.Text) > 0 && r.Text[len(r.Text)-1] == '\n'
}

// Body returns the line without its newline.
func (r Record) Body() []byte {
	if r.HasNewline() {
		return r.Text[:len(r.Text)-1]
	}
	return r.Text
}

// SplitLines splits buf into line records. A final line without a newline is
// still returned; an empty buffer yields no records.
func SplitLines(buf []byte) []Record {
	if len(buf) == 0 {
		return nil
	}
	records := make([]Record, 0, bytes.Count(buf, []byte{'\n'})+1)
	offset := 0
	for offset < len(buf) {
		end := bytes.IndexByte(buf[offset:], '\n')
		if end < 0 {
			end = len(buf)
		} else {
			end += offset + 1
		}
		records = append(records, Record{
			Text:   buf[offset:end:end],
			Number: len(records) + 1,
			Offset: offset,
		})
		offset = end
	}
	return records
}

// LineLen returns the length of the first line in buf including its newline.
func LineLen(buf []byte) int {
	if i := bytes.IndexByte(buf, '\n'); i >= 0 {
		return i + 1
	}
	return len(buf)
}
