package filter

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/spf13/afero"
)

// IgnoreFileName is read from the root of the local tree.
const IgnoreFileName = ".syncignore"

// LoadIgnoreFile returns the non-empty lines of the .syncignore file under
// the local root. A missing file yields no lines.
func LoadIgnoreFile(fsys afero.Fs) ([]string, error) {
	file, err := fsys.Open(IgnoreFileName)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", IgnoreFileName, err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", IgnoreFileName, err)
	}

	slog.Debug("loaded ignore file", "file", IgnoreFileName, "rules", len(lines))
	return lines, nil
}
