package bitmapindex

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"golang.org/x/time/rate"

	"github.com/martun/bitmap-index/blobstore"
	"github.com/martun/bitmap-index/model"
)

// Compression selects the frame codec for archived artifacts.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
)

func (c Compression) ext() string {
	switch c {
	case CompressionZstd:
		return ".zst"
	case CompressionLZ4:
		return ".lz4"
	default:
		return ""
	}
}

// ArchiveFile describes one archived artifact.
type ArchiveFile struct {
	// Name is the artifact path relative to the batch directory.
	Name string `json:"name"`
	// Object is the store object holding the (possibly compressed) bytes.
	Object string `json:"object"`
	// Size is the uncompressed byte count.
	Size int64 `json:"size"`
	// CRC32 is the IEEE checksum of the uncompressed bytes.
	CRC32 uint32 `json:"crc32"`
}

// ArchiveManifest lists the objects of one archived batch.
type ArchiveManifest struct {
	ID          uuid.UUID     `json:"id"`
	BatchID     uint32        `json:"batch_id"`
	Compression Compression   `json:"compression"`
	Files       []ArchiveFile `json:"files"`
}

// BatchArchiver ships the artifacts of a committed batch — the bitmaps
// file plus the four key/value environments — to an object store, and
// restores them for read-only query elsewhere. It never participates in
// build durability: only fully committed batches should be archived.
type BatchArchiver struct {
	store       blobstore.Store
	compression Compression
	limiter     *rate.Limiter
	opts        options
}

// ArchiverOption configures a BatchArchiver.
type ArchiverOption func(*BatchArchiver)

// WithCompression selects the artifact codec. Default zstd.
func WithCompression(c Compression) ArchiverOption {
	return func(a *BatchArchiver) { a.compression = c }
}

// WithUploadLimit caps upload throughput in bytes per second.
func WithUploadLimit(bytesPerSecond int) ArchiverOption {
	return func(a *BatchArchiver) {
		a.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), bytesPerSecond)
	}
}

// WithArchiverLogger replaces the default logger.
func WithArchiverLogger(l *slog.Logger) ArchiverOption {
	return func(a *BatchArchiver) {
		if l != nil {
			a.opts.logger = l
		}
	}
}

// NewBatchArchiver creates an archiver over the given store.
func NewBatchArchiver(store blobstore.Store, opts ...ArchiverOption) *BatchArchiver {
	a := &BatchArchiver{
		store:       store,
		compression: CompressionZstd,
		opts:        defaultOptions(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Archive uploads every artifact of the batch and finally its manifest,
// under a fresh archive id. Returns the manifest.
func (a *BatchArchiver) Archive(ctx context.Context, batch *model.BatchInfo, paths BatchPaths) (*ArchiveManifest, error) {
	manifest := &ArchiveManifest{
		ID:          uuid.New(),
		BatchID:     batch.ID,
		Compression: a.compression,
	}
	root := filepath.Dir(paths.Bitmaps)

	for _, artifact := range paths.list() {
		files, err := expandArtifact(artifact)
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			rel, err := filepath.Rel(root, file)
			if err != nil {
				return nil, err
			}
			name := filepath.ToSlash(rel)
			object := path.Join(manifest.ID.String(), name) + a.compression.ext()
			entry, err := a.uploadFile(ctx, file, name, object)
			if err != nil {
				return nil, fmt.Errorf("archiving %s: %w", name, err)
			}
			manifest.Files = append(manifest.Files, *entry)
		}
	}

	body, err := json.Marshal(manifest)
	if err != nil {
		return nil, err
	}
	// The manifest goes last: its presence marks a complete archive.
	object := path.Join(manifest.ID.String(), "manifest.json")
	if err := a.store.Put(ctx, object, strings.NewReader(string(body)), int64(len(body))); err != nil {
		return nil, err
	}

	a.opts.logger.Info("batch archived",
		"batch", batch.ID,
		"archive", manifest.ID.String(),
		"files", len(manifest.Files),
	)
	return manifest, nil
}

// LoadManifest fetches a previously stored manifest by archive id.
func (a *BatchArchiver) LoadManifest(ctx context.Context, id uuid.UUID) (*ArchiveManifest, error) {
	rc, err := a.store.Open(ctx, path.Join(id.String(), "manifest.json"))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var m ArchiveManifest
	if err := json.NewDecoder(rc).Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding archive manifest: %w", err)
	}
	return &m, nil
}

// Restore downloads every artifact of the manifest into destDir,
// verifying sizes and checksums. The restored directory can be opened
// with NewBatchReader(batch, DefaultBatchPaths(destDir)).
func (a *BatchArchiver) Restore(ctx context.Context, manifest *ArchiveManifest, destDir string) error {
	for _, file := range manifest.Files {
		if err := a.restoreFile(ctx, manifest, file, destDir); err != nil {
			return fmt.Errorf("restoring %s: %w", file.Name, err)
		}
	}
	a.opts.logger.Info("batch restored",
		"archive", manifest.ID.String(),
		"files", len(manifest.Files),
		"dest", destDir,
	)
	return nil
}

func (a *BatchArchiver) uploadFile(ctx context.Context, file, name, object string) (*ArchiveFile, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	crc := crc32.NewIEEE()
	var src io.Reader = io.TeeReader(f, crc)
	if a.limiter != nil {
		src = &ratedReader{ctx: ctx, r: src, limiter: a.limiter}
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(a.compress(pw, src))
	}()

	if err := a.store.Put(ctx, object, pr, -1); err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return &ArchiveFile{
		Name:   name,
		Object: object,
		Size:   info.Size(),
		CRC32:  crc.Sum32(),
	}, nil
}

func (a *BatchArchiver) restoreFile(ctx context.Context, manifest *ArchiveManifest, file ArchiveFile, destDir string) error {
	rc, err := a.store.Open(ctx, file.Object)
	if err != nil {
		return err
	}
	defer rc.Close()

	src, closeSrc, err := decompress(manifest.Compression, rc)
	if err != nil {
		return err
	}
	defer closeSrc()

	dst := filepath.Join(destDir, filepath.FromSlash(file.Name))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	crc := crc32.NewIEEE()
	n, err := io.Copy(io.MultiWriter(out, crc), src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if n != file.Size {
		return fmt.Errorf("restored %d bytes, manifest says %d", n, file.Size)
	}
	if crc.Sum32() != file.CRC32 {
		return fmt.Errorf("checksum mismatch after restore")
	}
	return nil
}

func (a *BatchArchiver) compress(w io.Writer, src io.Reader) error {
	switch a.compression {
	case CompressionZstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return err
		}
		if _, err := io.Copy(enc, src); err != nil {
			enc.Close()
			return err
		}
		return enc.Close()
	case CompressionLZ4:
		enc := lz4.NewWriter(w)
		if _, err := io.Copy(enc, src); err != nil {
			enc.Close()
			return err
		}
		return enc.Close()
	default:
		_, err := io.Copy(w, src)
		return err
	}
}

func decompress(c Compression, r io.Reader) (io.Reader, func(), error) {
	switch c {
	case CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	case CompressionLZ4:
		return lz4.NewReader(r), func() {}, nil
	default:
		return r, func() {}, nil
	}
}

// expandArtifact lists the files of one artifact path: the path itself
// for a plain file, its files recursively for a directory (the key/value
// environments are directories).
func expandArtifact(artifact string) ([]string, error) {
	info, err := os.Stat(artifact)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{artifact}, nil
	}
	var files []string
	err = filepath.WalkDir(artifact, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		files = append(files, p)
		return nil
	})
	return files, err
}

// ratedReader throttles reads against a shared byte-rate limiter.
type ratedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (r *ratedReader) Read(p []byte) (int, error) {
	if burst := r.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := r.r.Read(p)
	if n > 0 {
		if werr := r.limiter.WaitN(r.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
