// Package entropy provides the randomness sources used for key generation,
// message keys and AEAD nonces.
package entropy

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"os"

	"github.com/drand/kyber/util/random"
	"golang.org/x/crypto/blake2s"

	"github.com/ideal-lab5/etf-cli/common/log"
)

// GetRandom reads n bytes from source, falling back to crypto/rand when
// source is nil or cannot deliver n bytes. A file source obtained from
// GetReaderFromSource logs a warning on fallback, the output is then not
// reproducible.
func GetRandom(source io.Reader, n uint32) ([]byte, error) {
	if source == nil {
		source = rand.Reader
	}

	out := make([]byte, n)
	read, err := io.ReadFull(source, out)
	if err != nil || uint32(read) != n {
		if fr, ok := source.(*fileReader); ok && fr.l != nil {
			fr.l.Warnw("Entropy source too short, falling back to crypto/rand",
				"source", fr.path, "wanted", n, "read", read, "err", err)
		}
		if _, err := rand.Read(out); err != nil {
			return nil, fmt.Errorf("entropy: %w", err)
		}
	}
	return out, nil
}

// Reader returns source, or crypto/rand.Reader when source is nil.
func Reader(source io.Reader) io.Reader {
	if source == nil {
		return rand.Reader
	}
	return source
}

// Stream returns a cipher.Stream for picking kyber scalars. With a nil source
// it is backed by crypto/rand. Otherwise 32 bytes are read from source once and
// expanded with blake2s, so a fixed source gives a reproducible stream.
func Stream(source io.Reader) (cipher.Stream, error) {
	if source == nil {
		return random.New(), nil
	}
	seed, err := GetRandom(source, 32)
	if err != nil {
		return nil, err
	}
	xof, err := blake2s.NewXOF(blake2s.OutputLengthUnknown, seed)
	if err != nil {
		return nil, fmt.Errorf("entropy: %w", err)
	}
	return random.New(xof), nil
}

// NewFileReader creates a reader that reads random bytes directly from a file
func NewFileReader(filePath string) io.Reader {
	return &fileReader{path: filePath}
}

type fileReader struct {
	path string
	l    log.Logger
}

func (r *fileReader) Read(p []byte) (int, error) {
	file, err := os.Open(r.path)
	if err != nil {
		return 0, fmt.Errorf("entropy: cannot open file: %w", err)
	}
	defer file.Close()

	n, err := io.ReadFull(file, p)
	if err != nil {
		return n, fmt.Errorf("entropy: error reading from file: %w", err)
	}
	return n, nil
}

// GetReaderFromSource checks sourcePath is a readable file and returns a
// reader on it.
func GetReaderFromSource(sourcePath string, logger log.Logger) (io.Reader, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("entropy: cannot access source: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("entropy: source path is a directory, not a file")
	}

	logger.Infow("Using file for entropy source", "source", sourcePath)
	return &fileReader{path: sourcePath, l: logger}, nil
}
