package fetch

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const chunkSize = 32 * 1024

// WriteBody streams body to dest in chunks, reporting progress after each.
// Missing parent directories are created. When declared is not -1 and fewer
// bytes arrive, the file is removed and ErrIncompleteDownload returned; any
// other failure also removes the partial file. On success the file's mtime is
// set to lastModified when that is known; failing to do so is not an error.
func WriteBody(dest string, body io.Reader, declared int64, lastModified time.Time, progress ProgressFunc) (written int64, err error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("create directory for %s: %w", dest, err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(dest)
		}
	}()

	buf := make([]byte, chunkSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return written, fmt.Errorf("write %s: %w", dest, werr)
			}
			written += int64(n)
			if progress != nil {
				progress(written, declared)
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return written, fmt.Errorf("read body for %s: %w", dest, rerr)
		}
	}

	if declared >= 0 && written < declared {
		return written, fmt.Errorf("%s: got %d of %d bytes: %w", dest, written, declared, ErrIncompleteDownload)
	}
	if err := f.Close(); err != nil {
		return written, fmt.Errorf("close %s: %w", dest, err)
	}
	if !lastModified.IsZero() {
		_ = os.Chtimes(dest, lastModified, lastModified)
	}
	return written, nil
}
