package snapshot

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"

	appErrors "dataguard/internal/errors"
)

const (
	// Format names the envelope document.
	Format = "dataguard-snapshot"
	// Version is the current envelope version.
	Version = 1

	headerSize  = 6
	flagEncrypt = 1 << 0
)

var magic = []byte("DGS1")

// envelope is the self-describing document stored inside a payload. Record
// shapes may change between product releases; only these fields are fixed.
type envelope struct {
	Format  string `json:"format"`
	Version int    `json:"version"`
	Snapshot
}

// Codec turns snapshots into payload bytes and back. A payload is a six byte
// header (magic, compression code, flags) followed by the optionally
// encrypted, optionally compressed JSON envelope.
type Codec struct {
	compression Compression
	level       int
	encryptor   *Encryptor
}

// CodecOption configures a Codec
type CodecOption func(*Codec)

// WithCompression compresses encoded payloads. Level 0 selects the
// algorithm's default.
func WithCompression(c Compression, level int) CodecOption {
	return func(codec *Codec) {
		codec.compression = c
		codec.level = level
	}
}

// WithEncryptor encrypts encoded payloads and enables decoding of encrypted ones.
func WithEncryptor(e *Encryptor) CodecOption {
	return func(codec *Codec) {
		codec.encryptor = e
	}
}

// NewCodec creates a codec. Without options payloads are plain JSON.
func NewCodec(opts ...CodecOption) *Codec {
	c := &Codec{compression: CompressionNone}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compression returns the algorithm used by Encode.
func (c *Codec) Compression() Compression {
	return c.compression
}

// Encrypted reports whether Encode encrypts.
func (c *Codec) Encrypted() bool {
	return c.encryptor != nil
}

// Encode serializes s.
func (c *Codec) Encode(s *Snapshot) ([]byte, error) {
	if s == nil {
		return nil, appErrors.NewValidationError("snapshot is nil", nil)
	}
	if err := s.Validate(); err != nil {
		return nil, appErrors.NewValidationError("snapshot is invalid", err)
	}

	body, err := json.Marshal(envelope{Format: Format, Version: Version, Snapshot: *s})
	if err != nil {
		return nil, appErrors.NewValidationError("failed to encode snapshot", err)
	}

	if c.compression != CompressionNone {
		compressor, err := compressorFor(c.compression)
		if err != nil {
			return nil, appErrors.NewConfigurationError("invalid snapshot compression", err)
		}
		level := c.level
		if level == 0 {
			level = compressor.DefaultLevel()
		}
		if body, err = compressor.Compress(body, level); err != nil {
			return nil, appErrors.NewStorageWriteError("failed to compress snapshot", err)
		}
	}

	var flags byte
	if c.encryptor != nil {
		if body, err = c.encryptor.Encrypt(body); err != nil {
			return nil, appErrors.NewStorageWriteError("failed to encrypt snapshot", err)
		}
		flags |= flagEncrypt
	}

	out := make([]byte, 0, headerSize+len(body))
	out = append(out, magic...)
	out = append(out, compressionCodes[c.compression], flags)
	return append(out, body...), nil
}

// Decode parses a payload. Every failure is a MalformedSnapshotError except a
// missing decryption key, which is a configuration problem.
func (c *Codec) Decode(data []byte) (*Snapshot, error) {
	if len(data) < headerSize {
		return nil, appErrors.NewMalformedSnapshotError(
			fmt.Sprintf("payload is %d bytes, shorter than the header", len(data)), nil)
	}
	if !bytes.Equal(data[:len(magic)], magic) {
		return nil, appErrors.NewMalformedSnapshotError("payload does not start with snapshot magic", nil)
	}

	compression, ok := compressionFromCode(data[4])
	if !ok {
		return nil, appErrors.NewMalformedSnapshotError(
			fmt.Sprintf("unknown compression code %d", data[4]), nil)
	}
	flags := data[5]
	body := data[headerSize:]

	if flags&^flagEncrypt != 0 {
		return nil, appErrors.NewMalformedSnapshotError(fmt.Sprintf("unknown header flags %#x", flags), nil)
	}

	var err error
	if flags&flagEncrypt != 0 {
		if c.encryptor == nil {
			return nil, appErrors.NewConfigurationError("payload is encrypted but no encryption key is configured", nil)
		}
		if body, err = c.encryptor.Decrypt(body); err != nil {
			return nil, appErrors.NewMalformedSnapshotError("failed to decrypt payload", err)
		}
	}

	if compression != CompressionNone {
		compressor, _ := compressorFor(compression)
		if body, err = compressor.Decompress(body); err != nil {
			return nil, appErrors.NewMalformedSnapshotError("failed to decompress payload", err)
		}
	}

	var env envelope
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, appErrors.NewMalformedSnapshotError("payload is not a valid snapshot document", err)
	}
	if dec.More() {
		return nil, appErrors.NewMalformedSnapshotError("trailing data after snapshot document", nil)
	}

	if env.Format != Format {
		return nil, appErrors.NewMalformedSnapshotError(fmt.Sprintf("unexpected format %q", env.Format), nil)
	}
	if env.Version < 1 || env.Version > Version {
		return nil, appErrors.NewMalformedSnapshotError(fmt.Sprintf("unsupported version %d", env.Version), nil)
	}

	s := env.Snapshot
	if s.Collections == nil || s.RecordCounts == nil {
		return nil, appErrors.NewMalformedSnapshotError("snapshot is missing entity_collections or record_counts", nil)
	}
	if err := s.Validate(); err != nil {
		return nil, appErrors.NewMalformedSnapshotError("snapshot envelope is inconsistent", err)
	}
	reviveBinary(&s)
	return &s, nil
}
