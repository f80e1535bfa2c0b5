// internal/safe/compression.go
package safe

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}
	gzipMagic = []byte{0x1f, 0x8b}
)

// CompressionOptions configures compression behavior
type CompressionOptions struct {
	// Minimum size in bytes before compressing
	MinSize int
	// Compression level (1=fastest, 3=best)
	Level int
	// Content larger than this is compressed through the streaming encoder
	StreamingThreshold int64
}

func DefaultCompressionOptions() CompressionOptions {
	return CompressionOptions{
		MinSize:            1024,
		Level:              2,
		StreamingThreshold: 50 * 1024 * 1024,
	}
}

// compressionManager pools zstd encoders and decoders for blob files and
// the index file.
type compressionManager struct {
	opts     CompressionOptions
	encoders sync.Pool
	decoders sync.Pool
}

func newCompressionManager(opts CompressionOptions) (*compressionManager, error) {
	encoderOpts := []zstd.EOption{
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.Level)),
		zstd.WithEncoderConcurrency(1),
	}
	decoderOpts := []zstd.DOption{zstd.WithDecoderConcurrency(1)}

	// Fail early on bad options instead of inside the pool.
	enc, err := zstd.NewWriter(nil, encoderOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating test encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, decoderOpts...)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating test decoder: %w", err)
	}

	cm := &compressionManager{opts: opts}
	cm.encoders.New = func() interface{} {
		enc, _ := zstd.NewWriter(nil, encoderOpts...)
		return enc
	}
	cm.decoders.New = func() interface{} {
		dec, _ := zstd.NewReader(nil, decoderOpts...)
		return dec
	}
	cm.encoders.Put(enc)
	cm.decoders.Put(dec)
	return cm, nil
}

// shouldCompress skips small content and content that already carries a
// compression header.
func (cm *compressionManager) shouldCompress(content []byte) bool {
	if len(content) < cm.opts.MinSize {
		return false
	}
	return !bytes.HasPrefix(content, zstdMagic) && !bytes.HasPrefix(content, gzipMagic)
}

// compress returns the bytes to store and whether they are compressed.
func (cm *compressionManager) compress(content []byte) ([]byte, bool, error) {
	if !cm.shouldCompress(content) {
		return content, false, nil
	}
	out, err := cm.encode(content)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// encode compresses content unconditionally.
func (cm *compressionManager) encode(content []byte) ([]byte, error) {
	enc := cm.encoders.Get().(*zstd.Encoder)
	defer cm.encoders.Put(enc)

	if int64(len(content)) <= cm.opts.StreamingThreshold {
		return enc.EncodeAll(content, make([]byte, 0, len(content)/2)), nil
	}

	var buf bytes.Buffer
	enc.Reset(&buf)
	if _, err := io.Copy(enc, bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("streaming compression: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalizing compression: %w", err)
	}
	return buf.Bytes(), nil
}

// decompress passes content through unchanged unless it starts with the
// zstd frame magic.
func (cm *compressionManager) decompress(content []byte) ([]byte, error) {
	if !bytes.HasPrefix(content, zstdMagic) {
		return content, nil
	}

	dec := cm.decoders.Get().(*zstd.Decoder)
	defer cm.decoders.Put(dec)

	if int64(len(content)) <= cm.opts.StreamingThreshold {
		return dec.DecodeAll(content, nil)
	}

	var buf bytes.Buffer
	if err := dec.Reset(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("streaming decompression: %w", err)
	}
	if _, err := io.Copy(&buf, dec); err != nil {
		return nil, fmt.Errorf("streaming decompression: %w", err)
	}
	return buf.Bytes(), nil
}

func (cm *compressionManager) close() {
	if enc, ok := cm.encoders.Get().(*zstd.Encoder); ok && enc != nil {
		enc.Close()
	}
	if dec, ok := cm.decoders.Get().(*zstd.Decoder); ok && dec != nil {
		dec.Close()
	}
}

// Codec exposes the pooled zstd encoder for other persisted files.
type Codec struct {
	cm *compressionManager
}

func NewCodec(level int) (*Codec, error) {
	opts := DefaultCompressionOptions()
	if level != 0 {
		opts.Level = level
	}
	cm, err := newCompressionManager(opts)
	if err != nil {
		return nil, err
	}
	return &Codec{cm: cm}, nil
}

func (c *Codec) Encode(data []byte) ([]byte, error) { return c.cm.encode(data) }
func (c *Codec) Decode(data []byte) ([]byte, error) { return c.cm.decompress(data) }
func (c *Codec) Close()                             { c.cm.close() }
