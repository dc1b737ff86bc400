// Package wavwriter implements the streaming WAV container writer: a
// 44-byte canonical PCM header written up front with placeholder sizes,
// optional per-chunk authenticated encryption of the payload, a
// deferred header fix-up on close, and a SHA-256 content checksum of the
// finalized file.
package wavwriter

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const headerSize = 44

// ErrEncryptChunk wraps a Write failure caused by the configured
// Encryptor, distinguishing it from a plain filesystem I/O failure.
var ErrEncryptChunk = errors.New("wavwriter: encrypt chunk")

// Encryptor seals one chunk of plaintext into a self-contained,
// authenticated ciphertext (nonce and tag included) suitable for on-disk
// storage. Implementations must use a fresh nonce per call.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
}

// Config describes the WAV container to create on Open.
type Config struct {
	Path       string
	SampleRate float64
	Channels   int
	BitDepth   int
	Encryptor  Encryptor
}

// Writer owns one streaming WAV file handle and its running byte counter.
// It is not safe for concurrent use from multiple goroutines; the capture
// processing loop is its sole writer between Open and Close.
type Writer struct {
	file         *os.File
	bytesWritten int64
	encryptor    Encryptor
	open         bool
}

// Open creates (truncating) the file at cfg.Path, creating parent
// directories as needed, and writes a 44-byte header with placeholder
// chunk/data sizes. Calling Open on an already-open Writer is a no-op.
func (w *Writer) Open(cfg Config) error {
	if w.open {
		return nil
	}

	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("wavwriter: create output directory: %w", err)
		}
	}

	f, err := os.Create(cfg.Path)
	if err != nil {
		return fmt.Errorf("wavwriter: create file: %w", err)
	}

	header := buildHeader(headerParams{
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		bitDepth:   cfg.BitDepth,
		chunkSize:  0,
		dataSize:   0,
	})

	if _, err := f.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("wavwriter: write header: %w", err)
	}

	w.file = f
	w.bytesWritten = headerSize
	w.encryptor = cfg.Encryptor
	w.open = true
	return nil
}

// Write appends one chunk of audio payload. With no encryptor configured,
// data is appended verbatim. With an encryptor configured, data is sealed
// and written as a 4-byte little-endian length prefix followed by the
// ciphertext blob.
func (w *Writer) Write(data []byte) error {
	if !w.open {
		return errors.New("wavwriter: write on closed writer")
	}
	if len(data) == 0 {
		return nil
	}

	if w.encryptor == nil {
		n, err := w.file.Write(data)
		if err != nil {
			return fmt.Errorf("wavwriter: write chunk: %w", err)
		}
		w.bytesWritten += int64(n)
		return nil
	}

	sealed, err := w.encryptor.Encrypt(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncryptChunk, err)
	}

	var lengthPrefix [4]byte
	binary.LittleEndian.PutUint32(lengthPrefix[:], uint32(len(sealed)))

	if _, err := w.file.Write(lengthPrefix[:]); err != nil {
		return fmt.Errorf("wavwriter: write chunk length prefix: %w", err)
	}
	if _, err := w.file.Write(sealed); err != nil {
		return fmt.Errorf("wavwriter: write sealed chunk: %w", err)
	}
	w.bytesWritten += int64(4 + len(sealed))
	return nil
}

// Close seeks back to fix up the RIFF/data sizes (overriding the sample
// rate, byte rate and block align fields, computed from channels and
// bitDepth, when actualSampleRate is non-nil, to record post-probe drift
// correction; the channel and bit-depth fields are left as written by
// Open), flushes, closes the
// file, then reads it back and returns the lowercase hex SHA-256 digest
// of the finalized bytes.
func (w *Writer) Close(actualSampleRate *float64, channels, bitDepth int) (string, error) {
	if !w.open {
		return "", errors.New("wavwriter: close on closed writer")
	}

	fileSize := w.bytesWritten

	if _, err := w.file.Seek(4, 0); err != nil {
		return "", fmt.Errorf("wavwriter: seek chunk size: %w", err)
	}
	if err := writeUint32(w.file, uint32(fileSize-8)); err != nil {
		return "", fmt.Errorf("wavwriter: write chunk size: %w", err)
	}

	if actualSampleRate != nil {
		byteRate := uint32(*actualSampleRate) * uint32(channels) * uint32(bitDepth) / 8
		blockAlign := uint16(channels * bitDepth / 8)

		if _, err := w.file.Seek(24, 0); err != nil {
			return "", fmt.Errorf("wavwriter: seek sample rate: %w", err)
		}
		if err := writeUint32(w.file, uint32(*actualSampleRate)); err != nil {
			return "", fmt.Errorf("wavwriter: write sample rate: %w", err)
		}
		if err := writeUint32(w.file, byteRate); err != nil {
			return "", fmt.Errorf("wavwriter: write byte rate: %w", err)
		}
		if _, err := w.file.Seek(32, 0); err != nil {
			return "", fmt.Errorf("wavwriter: seek block align: %w", err)
		}
		if err := writeUint16(w.file, blockAlign); err != nil {
			return "", fmt.Errorf("wavwriter: write block align: %w", err)
		}
	}

	if _, err := w.file.Seek(40, 0); err != nil {
		return "", fmt.Errorf("wavwriter: seek data size: %w", err)
	}
	if err := writeUint32(w.file, uint32(fileSize-headerSize)); err != nil {
		return "", fmt.Errorf("wavwriter: write data size: %w", err)
	}

	if err := w.file.Sync(); err != nil {
		return "", fmt.Errorf("wavwriter: sync: %w", err)
	}
	path := w.file.Name()
	if err := w.file.Close(); err != nil {
		return "", fmt.Errorf("wavwriter: close: %w", err)
	}
	w.open = false
	w.file = nil

	contents, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("wavwriter: read finalized file: %w", err)
	}

	sum := sha256.Sum256(contents)
	return hex.EncodeToString(sum[:]), nil
}

// BytesWritten reports the running byte count: 44 plus every chunk written
// so far (chunk size includes the 4-byte prefix when encrypted).
func (w *Writer) BytesWritten() int64 {
	return w.bytesWritten
}

type headerParams struct {
	sampleRate float64
	channels   int
	bitDepth   int
	chunkSize  uint32
	dataSize   uint32
}

// buildHeader renders the canonical 44-byte PCM WAV header.
func buildHeader(p headerParams) []byte {
	header := make([]byte, headerSize)

	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], p.chunkSize)
	copy(header[8:12], "WAVE")

	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM

	channels := uint16(p.channels)
	binary.LittleEndian.PutUint16(header[22:24], channels)

	sampleRate := uint32(p.sampleRate)
	binary.LittleEndian.PutUint32(header[24:28], sampleRate)

	byteRate := sampleRate * uint32(p.channels) * uint32(p.bitDepth) / 8
	binary.LittleEndian.PutUint32(header[28:32], byteRate)

	blockAlign := uint16(p.channels * p.bitDepth / 8)
	binary.LittleEndian.PutUint16(header[32:34], blockAlign)

	binary.LittleEndian.PutUint16(header[34:36], uint16(p.bitDepth))

	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], p.dataSize)

	return header
}

func writeUint32(f *os.File, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := f.Write(b[:])
	return err
}

func writeUint16(f *os.File, v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	_, err := f.Write(b[:])
	return err
}
