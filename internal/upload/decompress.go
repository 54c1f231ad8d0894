package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const (
	EncodingNone       = "none"
	EncodingGzip       = "gzip"
	EncodingBinaryGzip = "binary-gzip"
	EncodingZstd       = "zstd"
)

const decompressSuffix = ".decompressing"

// Decoder recognises and unwraps one compressed transfer encoding.
type Decoder struct {
	Magic     []byte
	NewReader func(r io.Reader) (io.ReadCloser, error)
}

type zstdReadCloser struct {
	*zstd.Decoder
}

func (z *zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}

func DefaultDecoders() map[string]Decoder {
	gz := Decoder{
		Magic: []byte{0x1f, 0x8b},
		NewReader: func(r io.Reader) (io.ReadCloser, error) {
			return gzip.NewReader(r)
		},
	}

	return map[string]Decoder{
		EncodingGzip:       gz,
		EncodingBinaryGzip: gz,
		EncodingZstd: {
			Magic: []byte{0x28, 0xb5, 0x2f, 0xfd},
			NewReader: func(r io.Reader) (io.ReadCloser, error) {
				dec, err := zstd.NewReader(r)
				if err != nil {
					return nil, err
				}
				return &zstdReadCloser{Decoder: dec}, nil
			},
		},
	}
}

// IsCompressed reports whether encoding names a compressed transfer. A
// compressed upload needs its decoded size declared up front.
func IsCompressed(encoding string) bool {
	return encoding != "" && encoding != EncodingNone
}

type OutcomeKind int

const (
	// OutcomeDecompressed means the blob was replaced by its decoded form.
	OutcomeDecompressed OutcomeKind = iota
	// OutcomeUnchanged means decoding was abandoned and the blob is untouched.
	OutcomeUnchanged
	// OutcomeFailed is fatal to the job.
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeDecompressed:
		return "decompressed"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type Outcome struct {
	Kind OutcomeKind
	Size int64
	Err  error
}

func decompressed(size int64) Outcome {
	return Outcome{Kind: OutcomeDecompressed, Size: size}
}

func unchanged(err error) Outcome {
	return Outcome{Kind: OutcomeUnchanged, Err: err}
}

func failed(err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Err: err}
}

// decompressFile decodes the blob at path into a sibling temp file and renames
// it over the original once the output size matches the job's OriginalSize.
// Without a positive OriginalSize no stage progress is reported.
func (m *Manager) decompressFile(ctx context.Context, job *Job, path string, dec Decoder) Outcome {
	src, err := os.Open(path)
	if err != nil {
		return unchanged(err)
	}
	defer src.Close()

	if len(dec.Magic) > 0 {
		magic := make([]byte, len(dec.Magic))
		if _, err := io.ReadFull(src, magic); err != nil {
			return unchanged(fmt.Errorf("reading magic header: %w", err))
		}
		if !bytes.Equal(magic, dec.Magic) {
			return unchanged(fmt.Errorf("not a %s payload", job.Encoding))
		}
		if _, err := src.Seek(0, io.SeekStart); err != nil {
			return unchanged(err)
		}
	}

	reader, err := dec.NewReader(src)
	if err != nil {
		return unchanged(fmt.Errorf("creating decoder: %w", err))
	}
	defer reader.Close()

	tempPath := path + decompressSuffix
	out, err := os.Create(tempPath)
	if err != nil {
		return unchanged(err)
	}

	written, err := m.stream(ctx, job, reader, out)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempPath)
		if errors.Is(err, ErrJobCancelled) {
			return failed(err)
		}
		return unchanged(err)
	}

	if written != job.OriginalSize {
		os.Remove(tempPath)
		return failed(fmt.Errorf("%w: got %d bytes, expected %d bytes", ErrSizeMismatch, written, job.OriginalSize))
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return unchanged(err)
	}

	return decompressed(written)
}

func (m *Manager) stream(ctx context.Context, job *Job, r io.Reader, w io.Writer) (int64, error) {
	buf := make([]byte, m.bufferSize)
	var written int64
	lastUpdate := m.now()

	for {
		if ctx.Err() != nil {
			return written, ErrJobCancelled
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("write error: %w", err)
			}
			written += int64(n)

			if job.OriginalSize > 0 && m.now().Sub(lastUpdate) >= m.progressInterval {
				progress := float64(written) / float64(job.OriginalSize) * 100
				if progress > 99 {
					progress = 99
				}
				m.updateJobStatus(job, StatusDecompressing, stageDecompressing, progress)
				lastUpdate = m.now()
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return written, nil
			}
			return written, fmt.Errorf("read error: %w", readErr)
		}
	}
}
