package ingest

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"
)

// chunkedPut streams a large upload into numbered temp chunks, then
// reassembles them into the canonical object with a single put. The final
// object appears only after every chunk arrived; a failure mid-sequence
// leaves nothing behind under the canonical key.
func (s *Service) chunkedPut(ctx context.Context, docID, key, mimeType string, size int64, r io.Reader) error {
	chunkSize := s.limits.ChunkSize
	tmpPrefix := fmt.Sprintf("tmp/%s/", docID)

	var chunkKeys []string
	cleanup := func() {
		g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
		for _, ck := range chunkKeys {
			ck := ck
			g.Go(func() error { return s.blobs.Delete(gctx, ck) })
		}
		if err := g.Wait(); err != nil {
			s.logger.Warn("temp chunk cleanup failed", "documentId", docID, "error", err)
		}
	}

	remaining := size
	for i := 0; remaining > 0; i++ {
		n := chunkSize
		if remaining < n {
			n = remaining
		}
		chunkKey := fmt.Sprintf("%schunk-%05d", tmpPrefix, i)
		if err := s.blobs.Put(ctx, chunkKey, io.LimitReader(r, n), n, "application/octet-stream"); err != nil {
			cleanup()
			return fmt.Errorf("store chunk %d: %w", i, err)
		}
		chunkKeys = append(chunkKeys, chunkKey)
		remaining -= n
	}

	readers := make([]io.Reader, 0, len(chunkKeys))
	closers := make([]io.Closer, 0, len(chunkKeys))
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()
	for _, ck := range chunkKeys {
		rc, _, err := s.blobs.Get(ctx, ck)
		if err != nil {
			cleanup()
			return fmt.Errorf("reopen chunk %s: %w", ck, err)
		}
		readers = append(readers, rc)
		closers = append(closers, rc)
	}

	if err := s.blobs.Put(ctx, key, io.MultiReader(readers...), size, mimeType); err != nil {
		cleanup()
		return fmt.Errorf("assemble document: %w", err)
	}
	cleanup()
	return nil
}
