// Package image holds file content as one buffer plus line spans and applies
// patch fragments to it.
package image

import (
	"bytes"

	"tigapply/internal/errors"
)

type Flag uint8

const (
	// Common marks a line shared by preimage and postimage.
	Common Flag = 1 << iota
	// Patched marks lines written by an earlier fragment; later fragments
	// may not match over them.
	Patched
)

// Line is a span of the image buffer.
type Line struct {
	Off  int
	Len  int
	Hash uint32
	Flag Flag
}

// Image owns buf; lines never hold copies of it.
type Image struct {
	buf   []byte
	lines []Line
}

// New indexes buf line by line. The image takes ownership of buf.
func New(buf []byte) *Image {
	img := &Image{buf: buf}
	for off := 0; off < len(buf); {
		n := bytes.IndexByte(buf[off:], '\n') + 1
		if n == 0 {
			n = len(buf) - off
		}
		img.lines = append(img.lines, Line{Off: off, Len: n, Hash: hashLine(buf[off : off+n])})
		off += n
	}
	return img
}

// hashLine ignores whitespace so that lines differing only in spacing
// collide and can be compared more closely.
func hashLine(b []byte) uint32 {
	var h uint32
	for _, c := range b {
		if !isSpace(c) {
			h = h*3 + uint32(c)
		}
	}
	return h
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}

func (img *Image) Bytes() []byte { return img.buf }
func (img *Image) Len() int      { return len(img.buf) }
func (img *Image) NumLines() int { return len(img.lines) }

// Line returns the bytes of line i including its newline.
func (img *Image) Line(i int) []byte {
	l := img.lines[i]
	return img.buf[l.Off : l.Off+l.Len]
}

func (img *Image) Flags(i int) Flag { return img.lines[i].Flag }

func (img *Image) add(text []byte, flag Flag) {
	img.lines = append(img.lines, Line{
		Off:  len(img.buf),
		Len:  len(text),
		Hash: hashLine(text),
		Flag: flag,
	})
	img.buf = append(img.buf, text...)
}

func (img *Image) removeFirstLine() {
	first := img.lines[0]
	img.buf = img.buf[first.Len:]
	img.lines = img.lines[1:]
	for i := range img.lines {
		img.lines[i].Off -= first.Len
	}
}

func (img *Image) removeLastLine() {
	last := img.lines[len(img.lines)-1]
	img.buf = img.buf[:len(img.buf)-last.Len]
	img.lines = img.lines[:len(img.lines)-1]
}

// offsetOf returns the byte offset of line n, or the buffer length when n
// is past the last line.
func (img *Image) offsetOf(n int) int {
	if n < len(img.lines) {
		return img.lines[n].Off
	}
	return len(img.buf)
}

// replaceCommon rewrites the common lines of pre and post from fixed, the
// corrected preimage text. postlen is the predicted size of the rewritten
// postimage: the added lines as they stand plus every carried-over common
// line at its corrected length. A different actual size is an engine bug.
func replaceCommon(pre, post *Image, fixed []byte, postlen int) (*Image, *Image, error) {
	fixedPre := New(fixed)
	if len(fixedPre.lines) > len(pre.lines) {
		return nil, nil, errors.InternalConsistency("fixed preimage has %d lines, expected at most %d",
			len(fixedPre.lines), len(pre.lines))
	}
	for i := range fixedPre.lines {
		fixedPre.lines[i].Flag = pre.lines[i].Flag
	}

	out := &Image{buf: make([]byte, 0, max(postlen, 0)), lines: make([]Line, 0, len(post.lines))}
	ctx := 0
	for _, l := range post.lines {
		if l.Flag&Common == 0 {
			out.add(post.buf[l.Off:l.Off+l.Len], l.Flag)
			continue
		}
		for ctx < len(fixedPre.lines) && fixedPre.lines[ctx].Flag&Common == 0 {
			ctx++
		}
		// The preimage runs out when trailing blank lines were dropped.
		if ctx >= len(fixedPre.lines) {
			continue
		}
		out.add(fixedPre.Line(ctx), l.Flag)
		ctx++
	}

	if len(out.buf) != postlen {
		return nil, nil, errors.InternalConsistency("caller miscounted postlen: asked %d, orig = %d, used = %d",
			postlen, len(post.buf), len(out.buf))
	}
	return fixedPre, out, nil
}

// predictPostlen sums the sizes replaceCommon will produce when the common
// lines of post take their text from the corresponding lines of fixedLens.
func predictPostlen(post *Image, commonLens []int) int {
	total := 0
	ctx := 0
	for _, l := range post.lines {
		if l.Flag&Common == 0 {
			total += l.Len
			continue
		}
		if ctx < len(commonLens) {
			total += commonLens[ctx]
			ctx++
		}
	}
	return total
}
