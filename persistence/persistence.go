// Package persistence reads and writes the database's index artifact
// files. Every artifact is a single gob body wrapped in a fixed binary
// envelope: magic number, format version, artifact kind, compression
// codec and a CRC32 checksum over the compressed payload. Writes are
// atomic so a crashed build never leaves a truncated artifact behind.
package persistence

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

const (
	// MagicNumber identifies sequence database artifact files (ASCII: "SQD1").
	MagicNumber = 0x53514431
	// FormatVersion is the current envelope version.
	FormatVersion = 0x00010000
)

// Kind tags the artifact type so an index file cannot be loaded as the
// wrong structure.
type Kind uint8

const (
	// KindHammingIndex is a per-marker Hamming-space graph index.
	KindHammingIndex Kind = 1
	// KindForestIndex is a per-marker random-split forest index.
	KindForestIndex Kind = 2
)

// Compression selects the payload codec.
type Compression uint8

const (
	// CompressionNone stores the gob payload uncompressed.
	CompressionNone Compression = iota
	// CompressionLZ4 compresses the payload with the LZ4 frame format.
	CompressionLZ4
	// CompressionZstd compresses the payload with zstandard. This is
	// the default for all artifacts the builder writes.
	CompressionZstd
)

var (
	ErrInvalidMagic       = errors.New("invalid magic number")
	ErrInvalidVersion     = errors.New("unsupported format version")
	ErrKindMismatch       = errors.New("artifact kind mismatch")
	ErrChecksumMismatch   = errors.New("checksum mismatch")
	ErrInvalidCompression = errors.New("invalid compression codec")
)

// fileHeader is the fixed 24-byte envelope header.
type fileHeader struct {
	Magic    uint32
	Version  uint32
	Kind     uint8
	Codec    uint8
	Reserved [2]byte
	Checksum uint32
	Length   uint64
}

// Save gob-encodes body, compresses it with the given codec and
// atomically writes the enveloped artifact to path.
func Save(path string, kind Kind, codec Compression, body any) error {
	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(body); err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}

	payload, err := compress(codec, raw.Bytes())
	if err != nil {
		return err
	}

	header := fileHeader{
		Magic:    MagicNumber,
		Version:  FormatVersion,
		Kind:     uint8(kind),
		Codec:    uint8(codec),
		Checksum: crc32.ChecksumIEEE(payload),
		Length:   uint64(len(payload)),
	}

	return saveToFile(path, func(w io.Writer) error {
		if err := binary.Write(w, binary.LittleEndian, &header); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("failed to write payload: %w", err)
		}
		return nil
	})
}

// Load reads an enveloped artifact from path, verifies magic, version,
// kind and checksum, and gob-decodes the payload into body.
func Load(path string, kind Kind, body any) error {
	return loadFromFile(path, func(r io.Reader) error {
		var header fileHeader
		if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
			return fmt.Errorf("failed to read header: %w", err)
		}

		if header.Magic != MagicNumber {
			return fmt.Errorf("%w: got 0x%08x", ErrInvalidMagic, header.Magic)
		}
		if header.Version != FormatVersion {
			return fmt.Errorf("%w: got 0x%08x", ErrInvalidVersion, header.Version)
		}
		if header.Kind != uint8(kind) {
			return fmt.Errorf("%w: expected %d, got %d", ErrKindMismatch, kind, header.Kind)
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return fmt.Errorf("failed to read payload: %w", err)
		}

		if crc := crc32.ChecksumIEEE(payload); crc != header.Checksum {
			return fmt.Errorf("%w: expected 0x%08x, got 0x%08x", ErrChecksumMismatch, header.Checksum, crc)
		}

		raw, err := decompress(Compression(header.Codec), payload)
		if err != nil {
			return err
		}

		if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(body); err != nil {
			return fmt.Errorf("failed to decode artifact: %w", err)
		}

		return nil
	})
}

func compress(codec Compression, raw []byte) ([]byte, error) {
	switch codec {
	case CompressionNone:
		return raw, nil
	case CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, fmt.Errorf("failed to compress payload: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("failed to compress payload: %w", err)
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("failed to create compressor: %w", err)
		}
		defer enc.Close()

		return enc.EncodeAll(raw, nil), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidCompression, codec)
	}
}

func decompress(codec Compression, payload []byte) ([]byte, error) {
	switch codec {
	case CompressionNone:
		return payload, nil
	case CompressionLZ4:
		raw, err := io.ReadAll(lz4.NewReader(bytes.NewReader(payload)))
		if err != nil {
			return nil, fmt.Errorf("failed to decompress payload: %w", err)
		}
		return raw, nil
	case CompressionZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create decompressor: %w", err)
		}
		defer dec.Close()

		raw, err := dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress payload: %w", err)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidCompression, codec)
	}
}

// saveToFile writes through a temp file in the destination directory and
// renames it into place, fsyncing file and directory so the artifact is
// either fully present or absent.
func saveToFile(filename string, writeFunc func(io.Writer) error) error {
	dir := filepath.Dir(filename)
	base := filepath.Base(filename)

	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	_ = tmp.Chmod(0644)

	buf := bufio.NewWriterSize(tmp, 256*1024)
	if err := writeFunc(buf); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, filename); err != nil {
		return err
	}

	// Best-effort: fsync the directory so the rename is durable on POSIX.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	tmpName = ""

	return nil
}

func loadFromFile(filename string, readFunc func(io.Reader) error) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	return readFunc(bufio.NewReaderSize(f, 256*1024))
}
