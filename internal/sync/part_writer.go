package sync

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/openmined/btsync/internal/utils"
)

const (
	DefaultPartMaxBytes = 128 * 1024 * 1024

	partFilePrefix = "part-"
	partFileSuffix = ".jsonl"
)

// PartWriter appends JSON lines to data/part-NNNNNN.jsonl, rolling over to the
// next number once the current part would exceed maxBytes. It is not safe for
// concurrent use; callers serialize access.
type PartWriter struct {
	dir      string
	maxBytes int64
	index    int
	file     *os.File
	buf      *bufio.Writer
	cur      int64
}

// OpenPartWriter opens a writer in dir. With appendMode the highest-numbered
// existing part is reopened and its size taken as the current byte count;
// otherwise part-000001.jsonl is truncated and writing starts there.
func OpenPartWriter(dir string, appendMode bool) (*PartWriter, error) {
	return openPartWriter(dir, appendMode, DefaultPartMaxBytes)
}

func openPartWriter(dir string, appendMode bool, maxBytes int64) (*PartWriter, error) {
	if err := utils.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	w := &PartWriter{dir: dir, maxBytes: maxBytes, index: 1}
	if appendMode {
		parts, err := listPartIndexes(dir)
		if err != nil {
			return nil, err
		}
		if len(parts) > 0 {
			w.index = parts[len(parts)-1]
		}
		return w, w.open(os.O_CREATE | os.O_WRONLY | os.O_APPEND)
	}
	return w, w.open(os.O_CREATE | os.O_WRONLY | os.O_TRUNC)
}

func (w *PartWriter) open(flag int) error {
	path := w.CurrentPath()
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat %s: %w", path, err)
	}
	w.file = f
	w.buf = bufio.NewWriterSize(f, 256*1024)
	w.cur = info.Size()
	return nil
}

// CurrentPath is the part file receiving writes.
func (w *PartWriter) CurrentPath() string {
	return filepath.Join(w.dir, partFileName(w.index))
}

// WriteLine appends line plus a newline and returns the bytes written.
func (w *PartWriter) WriteLine(line []byte) (int64, error) {
	n := int64(len(line)) + 1
	if w.cur > 0 && w.cur+n > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	if _, err := w.buf.Write(line); err != nil {
		return 0, fmt.Errorf("write %s: %w", w.CurrentPath(), err)
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return 0, fmt.Errorf("write %s: %w", w.CurrentPath(), err)
	}
	w.cur += n
	return n, nil
}

func (w *PartWriter) rotate() error {
	if err := w.Close(); err != nil {
		return err
	}
	w.index++
	return w.open(os.O_CREATE | os.O_WRONLY | os.O_TRUNC)
}

// Flush pushes buffered lines to the OS.
func (w *PartWriter) Flush() error {
	if w.buf == nil {
		return nil
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", w.CurrentPath(), err)
	}
	return nil
}

func (w *PartWriter) Close() error {
	if w.file == nil {
		return nil
	}
	if err := w.Flush(); err != nil {
		return err
	}
	err := w.file.Close()
	w.file, w.buf = nil, nil
	return err
}

func partFileName(index int) string {
	return fmt.Sprintf("%s%06d%s", partFilePrefix, index, partFileSuffix)
}

// listPartIndexes returns the numbers of the part files in dir, ascending.
func listPartIndexes(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	var indexes []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, partFilePrefix) || !strings.HasSuffix(name, partFileSuffix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, partFilePrefix), partFileSuffix))
		if err != nil || n <= 0 {
			continue
		}
		indexes = append(indexes, n)
	}
	sort.Ints(indexes)
	return indexes, nil
}
