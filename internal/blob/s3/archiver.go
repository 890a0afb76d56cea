package s3blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jtersteeg/tidebot/internal/domain"
)

// Archiver uploads finished run ledgers to object storage under a fixed key
// prefix, keyed by the ledger file name.
type Archiver struct {
	writer domain.BlobWriter
	prefix string
}

// NewArchiver creates an Archiver uploading under the given key prefix
// ("ledgers" when empty).
func NewArchiver(writer domain.BlobWriter, prefix string) *Archiver {
	if prefix == "" {
		prefix = "ledgers"
	}
	return &Archiver{writer: writer, prefix: prefix}
}

// multipartThreshold is the file size above which uploads go through the
// multipart manager instead of a single PutObject.
const multipartThreshold = 8 << 20

// ArchiveLedger uploads the CSV file at localPath. The object key is the
// prefix joined with the file's base name.
func (a *Archiver) ArchiveLedger(ctx context.Context, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("s3blob: open ledger %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("s3blob: stat ledger %s: %w", localPath, err)
	}

	key := a.prefix + "/" + filepath.Base(localPath)
	put := a.writer.Put
	if info.Size() > multipartThreshold {
		put = a.writer.PutMultipart
	}
	if err := put(ctx, key, f, "text/csv"); err != nil {
		return fmt.Errorf("s3blob: archive ledger %s: %w", key, err)
	}
	return nil
}
