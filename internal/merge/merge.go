package merge

import (
	"bytes"
)

const markerSize = 7

type Labels struct {
	Ours   string
	Theirs string
}

func DefaultLabels() Labels {
	return Labels{Ours: "ours", Theirs: "theirs"}
}

type Result struct {
	Content   []byte
	Conflicts int
}

func (r Result) Clean() bool { return r.Conflicts == 0 }

// ThreeWay merges ours and theirs against their common ancestor base. A
// region changed on only one side takes that side; a region changed the
// same way on both sides is taken once; anything else becomes a conflict
// block between markers.
func ThreeWay(base, ours, theirs []byte, labels Labels) Result {
	o := splitLines(base)
	a := splitLines(ours)
	b := splitLines(theirs)
	matchA := matchLines(o, a)
	matchB := matchLines(o, b)

	m := &merger{labels: labels}
	i, ia, ib := 0, 0, 0
	for {
		// Lines unchanged on both sides.
		for i < len(o) && matchA[i] == ia && matchB[i] == ib {
			m.out.Write(o[i])
			i++
			ia++
			ib++
		}

		k := i
		for k < len(o) && (matchA[k] < 0 || matchB[k] < 0) {
			k++
		}
		if k == len(o) {
			m.chunk(o[i:], a[ia:], b[ib:])
			break
		}
		m.chunk(o[i:k], a[ia:matchA[k]], b[ib:matchB[k]])
		i, ia, ib = k, matchA[k], matchB[k]
	}
	return Result{Content: m.out.Bytes(), Conflicts: m.conflicts}
}

type merger struct {
	labels    Labels
	out       bytes.Buffer
	conflicts int
}

func equalLines(x, y [][]byte) bool {
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if !bytes.Equal(x[i], y[i]) {
			return false
		}
	}
	return true
}

func (m *merger) chunk(o, a, b [][]byte) {
	switch {
	case equalLines(o, a):
		m.write(b)
	case equalLines(o, b), equalLines(a, b):
		m.write(a)
	default:
		m.conflicts++
		m.marker('<', m.labels.Ours)
		m.writeTerminated(a)
		m.marker('=', "")
		m.writeTerminated(b)
		m.marker('>', m.labels.Theirs)
	}
}

func (m *merger) write(lines [][]byte) {
	for _, l := range lines {
		m.out.Write(l)
	}
}

// writeTerminated makes sure the marker that follows starts a line.
func (m *merger) writeTerminated(lines [][]byte) {
	m.write(lines)
	if len(lines) > 0 && !bytes.HasSuffix(lines[len(lines)-1], []byte{'\n'}) {
		m.out.WriteByte('\n')
	}
}

func (m *merger) marker(c byte, label string) {
	m.out.Write(bytes.Repeat([]byte{c}, markerSize))
	if label != "" {
		m.out.WriteByte(' ')
		m.out.WriteString(label)
	}
	m.out.WriteByte('\n')
}
