package api

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// maxInspectLines bounds how far inspection reads into a staged file
const maxInspectLines = 100

// detectSeparator picks the column separator from a header line. Tab
// wins over comma; a line with neither splits on whitespace.
func detectSeparator(line string) string {
	switch {
	case strings.Contains(line, "\t"):
		return "\t"
	case strings.Contains(line, ","):
		return ","
	default:
		return ""
	}
}

func splitLine(line, sep string) []string {
	if sep == "" {
		return strings.Fields(line)
	}
	parts := strings.Split(line, sep)
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// inspectColumns reads the header of a staged count matrix and returns
// the gene identifier column name plus the sample column names. The
// first column is the identifier by convention.
func inspectColumns(path string) (geneCol string, sampleCols []string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", nil, fmt.Errorf("open staged file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		cols := splitLine(line, detectSeparator(line))
		if len(cols) < 2 {
			return "", nil, fmt.Errorf("header has %d column(s), need a gene column plus samples", len(cols))
		}
		return cols[0], cols[1:], nil
	}
	if err := scanner.Err(); err != nil {
		return "", nil, fmt.Errorf("read staged file: %w", err)
	}
	return "", nil, fmt.Errorf("file has no header line")
}

// hasNumericScores reports whether a staged ranked list carries at
// least one data row with a gene column and a numeric score column.
// The first row may be a header, so any qualifying row within the
// inspection window passes.
func hasNumericScores(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open staged file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lines := 0
	for scanner.Scan() && lines < maxInspectLines {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines++
		cols := splitLine(line, detectSeparator(line))
		if len(cols) < 2 {
			continue
		}
		if _, err := strconv.ParseFloat(cols[1], 64); err == nil {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("read staged file: %w", err)
	}
	return false, nil
}
