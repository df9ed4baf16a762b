package sync

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/goccy/go-json"
	"github.com/openmined/btsync/internal/utils"
)

const maxLineBytes = 64 * 1024 * 1024

// ResolveDefaultPushInput returns the output of the most recently updated
// completed pull of object under root.
func ResolveDefaultPushInput(root string, object ObjectRef) (string, error) {
	dirs, err := collectObjectSpecDirs(root, object)
	if err != nil {
		return "", err
	}

	var best string
	var bestUpdated int64
	for _, dir := range dirs {
		manifestPath := filepath.Join(dir, manifestFileName)
		if !utils.FileExists(manifestPath) {
			continue
		}
		manifest, err := ReadJSONFile[SyncManifest](manifestPath)
		if err != nil {
			return "", err
		}
		if manifest.Status != RunStatusCompleted || manifest.Spec == nil || manifest.Spec.Direction != DirectionPull {
			continue
		}

		output := derefString(manifest.OutputPath)
		if output == "" || !pathExists(output) {
			if output, err = resolvePullSpecOutputPath(dir); err != nil {
				return "", err
			}
		}
		if output == "" {
			continue
		}
		if best == "" || manifest.UpdatedAt > bestUpdated {
			best, bestUpdated = output, manifest.UpdatedAt
		}
	}

	if best == "" {
		return "", fmt.Errorf("%w: no completed pull output found for %s. run `btsync sync pull %s` first or pass --in", ErrNoPushInput, object, object)
	}
	return best, nil
}

// resolvePullSpecOutputPath finds the data a pull wrote inside a spec
// directory, or "" if there is none.
func resolvePullSpecOutputPath(specDir string) (string, error) {
	manifestPath := filepath.Join(specDir, manifestFileName)
	if utils.FileExists(manifestPath) {
		manifest, err := ReadJSONFile[SyncManifest](manifestPath)
		if err != nil {
			return "", err
		}
		if p := derefString(manifest.OutputPath); p != "" {
			if pathExists(p) {
				return p, nil
			}
			if joined := filepath.Join(specDir, p); pathExists(joined) {
				return joined, nil
			}
		}
	}

	if dataDir := filepath.Join(specDir, dataDirName); utils.DirExists(dataDir) {
		return dataDir, nil
	}
	for _, name := range []string{"data.jsonl", "data.ndjson"} {
		if p := filepath.Join(specDir, name); utils.FileExists(p) {
			return p, nil
		}
	}
	return "", nil
}

// ResolvePushInputFiles expands an input path into the ordered list of files
// to upload: the file itself, or the *.jsonl / *.ndjson files of a directory
// sorted by name. A directory with no such files is tried as a pull spec dir.
func ResolvePushInputFiles(input string) ([]string, error) {
	if utils.FileExists(input) {
		return []string{input}, nil
	}
	if !utils.DirExists(input) {
		return nil, fmt.Errorf("%w: input path is neither file nor directory: %s", ErrNoPushInput, input)
	}

	files, err := collectJSONLFiles(input)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		resolved, err := resolvePullSpecOutputPath(input)
		if err != nil {
			return nil, err
		}
		switch {
		case resolved == "":
		case utils.FileExists(resolved):
			files = []string{resolved}
		case utils.DirExists(resolved):
			if files, err = collectJSONLFiles(resolved); err != nil {
				return nil, err
			}
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no .jsonl or .ndjson files found in input directory %s", ErrNoPushInput, input)
	}
	return files, nil
}

func collectJSONLFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jsonl", ".ndjson":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// scanLines calls fn with the global line index (across files, starting at 0)
// and content of every line. fn returns false to stop.
func scanLines(files []string, fn func(index int, file string, line []byte) (bool, error)) error {
	index := 0
	for _, path := range files {
		stop, err := scanFile(path, &index, fn)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

func scanFile(path string, index *int, fn func(int, string, []byte) (bool, error)) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open input %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 1024*1024)
	for {
		line, err := readLine(r)
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("read %s: %w", path, err)
		}
		cont, ferr := fn(*index, path, line)
		*index++
		if ferr != nil {
			return false, ferr
		}
		if !cont {
			return true, nil
		}
	}
}

// readLine returns the next line without its terminator. A final line without
// a newline is returned before io.EOF.
func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > maxLineBytes {
			return nil, fmt.Errorf("line exceeds %d bytes", maxLineBytes)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 {
				return trimEOL(line), nil
			}
			return nil, err
		}
		return trimEOL(line), nil
	}
}

func trimEOL(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}

func decodeRow(line []byte) (map[string]any, error) {
	var row map[string]any
	if err := decodeJSONNumbers(line, &row); err != nil {
		return nil, err
	}
	if row == nil {
		return nil, errors.New("row is not a JSON object")
	}
	return row, nil
}

// CollectSeenRootsUntilOffset replays trace admission over every row at global
// line index below offset and returns the admitted roots. maxRoots of 0 admits
// every root.
func CollectSeenRootsUntilOffset(files []string, offset, maxRoots int) (mapset.Set[string], error) {
	seen := mapset.NewThreadUnsafeSet[string]()
	if offset <= 0 {
		return seen, nil
	}

	err := scanLines(files, func(index int, file string, line []byte) (bool, error) {
		if index >= offset {
			return false, nil
		}
		if len(bytes.TrimSpace(line)) == 0 {
			return true, nil
		}
		row, err := decodeRow(line)
		if err != nil {
			return false, fmt.Errorf("invalid JSON in %s at line %d while rebuilding trace resume state: %w", file, index+1, err)
		}
		admitRoot(seen, rowRootKey(row), maxRoots)
		return true, nil
	})
	return seen, err
}

// admitRoot reports whether a row of root may be uploaded. Roots already seen
// are always admitted; new roots only while fewer than maxRoots are known.
func admitRoot(seen mapset.Set[string], root string, maxRoots int) bool {
	if seen.Contains(root) {
		return true
	}
	if maxRoots > 0 && seen.Cardinality() >= maxRoots {
		return false
	}
	seen.Add(root)
	return true
}

// countLines counts lines across files, including blank ones.
func countLines(files []string) (int, error) {
	total := 0
	err := scanLines(files, func(int, string, []byte) (bool, error) {
		total++
		return true, nil
	})
	return total, err
}

// uploadTotalForProgress is the number of rows a push expects to upload, or 0
// when it cannot be known up front (traces scope).
func uploadTotalForProgress(files []string, scope Scope, limit *int) (int, error) {
	if scope == ScopeTraces {
		return 0, nil
	}
	total, err := countLines(files)
	if err != nil {
		return 0, err
	}
	if limit != nil {
		total = min(total, *limit)
	}
	return total, nil
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func decodeJSONNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
