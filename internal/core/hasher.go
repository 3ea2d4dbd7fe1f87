package core

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// FingerprintHasher computes content fingerprints for compiled classes.
//
// The computation is designed to be:
//   - Deterministic: identical bytes always produce identical hashes
//   - Content-based: file metadata (mtime, permissions) is ignored
//   - Order-independent: the result is a map keyed by class name
//
// MD5 only detects change here; classes.md5 is not a trust boundary.
//
// Each class is hashed by an independent worker; the only shared state is the
// result map, which is written under a mutex.
type FingerprintHasher struct {
	// Workers bounds the number of concurrent hashing goroutines.
	// Zero or negative means runtime.GOMAXPROCS(0).
	Workers int
}

// NewFingerprintHasher creates a hasher with the given worker bound.
func NewFingerprintHasher(workers int) *FingerprintHasher {
	return &FingerprintHasher{Workers: workers}
}

// Compute hashes every class file and returns the snapshot.
//
// The first I/O error aborts the remaining work and is returned; a
// partially computed snapshot is never returned.
func (h *FingerprintHasher) Compute(ctx context.Context, classes []ClassFile) (Fingerprints, error) {
	workers := h.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	var mu sync.Mutex
	out := make(Fingerprints, len(classes))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)

	for _, cf := range classes {
		cf := cf
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			sum, err := HashFile(cf.Path)
			if err != nil {
				return fmt.Errorf("hashing %s: %w", cf.Class, err)
			}
			mu.Lock()
			out[cf.Class] = sum
			mu.Unlock()
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// HashFile returns the hex MD5 digest of the file's content.
func HashFile(path string) (Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := md5.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return Hash(hex.EncodeToString(hasher.Sum(nil))), nil
}

// HashBytes returns the hex MD5 digest of data.
func HashBytes(data []byte) Hash {
	sum := md5.Sum(data)
	return Hash(hex.EncodeToString(sum[:]))
}
