// Package samfile parses zipped, pipe-delimited SAM extracts.
package samfile

import (
	"archive/zip"
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/iota-uz/sam-ingest/modules/sam/domain/samerrors"
)

const readBufferSize = 1 << 20

// row is one data line split on '|'. Cells are trimmed; missing cells read as empty.
type row []string

func (r row) cell(i int) string {
	if i < 0 || i >= len(r) {
		return ""
	}
	return strings.TrimSpace(r[i])
}

// readDat streams the data rows of the single .dat member of the archive at path to visit and
// returns how many data rows the file declares (line count minus header and footer).
func readDat(path string, visit func(line int, r row) error) (int, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %v", samerrors.ErrParse, filepath.Base(path), err)
	}
	defer zr.Close()

	var dat *zip.File
	for _, f := range zr.File {
		if !strings.EqualFold(filepath.Ext(f.Name), ".dat") {
			continue
		}
		if dat != nil {
			return 0, fmt.Errorf("%w: %s holds more than one .dat file", samerrors.ErrParse, filepath.Base(path))
		}
		dat = f
	}
	if dat == nil {
		return 0, fmt.Errorf("%w: %s holds no .dat file", samerrors.ErrParse, filepath.Base(path))
	}

	lines, err := countLines(dat)
	if err != nil {
		return 0, err
	}
	n := lines - 2
	if n < 0 {
		return 0, fmt.Errorf("%w: %s has %d lines, want header and footer", samerrors.ErrParse, dat.Name, lines)
	}

	rc, err := dat.Open()
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %v", samerrors.ErrParse, dat.Name, err)
	}
	defer rc.Close()

	br := bufio.NewReaderSize(rc, readBufferSize)
	if _, err := readLine(br, dat.Name, 1); err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		lineNo := i + 2
		text, err := readLine(br, dat.Name, lineNo)
		if err != nil {
			return 0, err
		}
		if err := visit(lineNo, row(strings.Split(text, "|"))); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// readLine reads one line, rejecting bytes outside 7-bit ASCII.
func readLine(br *bufio.Reader, name string, lineNo int) (string, error) {
	text, err := br.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("%w: %s line %d: %v", samerrors.ErrParse, name, lineNo, err)
	}
	if err != nil && text == "" {
		return "", fmt.Errorf("%w: %s ended before line %d", samerrors.ErrParse, name, lineNo)
	}
	for i := 0; i < len(text); i++ {
		if text[i] > 0x7f {
			return "", fmt.Errorf("%w: %s line %d: non-ASCII byte 0x%x at offset %d", samerrors.ErrParse, name, lineNo, text[i], i)
		}
	}
	return strings.TrimRight(text, "\r\n"), nil
}

func countLines(f *zip.File) (int, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %v", samerrors.ErrParse, f.Name, err)
	}
	defer rc.Close()

	buf := make([]byte, readBufferSize)
	lines := 0
	var last byte
	seen := false
	for {
		n, err := rc.Read(buf)
		if n > 0 {
			lines += bytes.Count(buf[:n], []byte{'\n'})
			last = buf[n-1]
			seen = true
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("%w: read %s: %v", samerrors.ErrParse, f.Name, err)
		}
	}
	if seen && last != '\n' {
		lines++
	}
	return lines, nil
}
