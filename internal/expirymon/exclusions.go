package expirymon

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// ExclusionSet holds asset tags that must never be analysed.
type ExclusionSet map[string]struct{}

// NewExclusionSet builds a set from tags, ignoring blanks.
func NewExclusionSet(tags ...string) ExclusionSet {
	set := make(ExclusionSet, len(tags))
	for _, tag := range tags {
		set.Add(tag)
	}
	return set
}

func (s ExclusionSet) Add(tag string) {
	if tag = strings.TrimSpace(tag); tag != "" {
		s[tag] = struct{}{}
	}
}

// Contains reports whether tag is excluded.
func (s ExclusionSet) Contains(tag string) bool {
	_, ok := s[strings.TrimSpace(tag)]
	return ok
}

// ParseExclusionList splits a comma-separated list of tags.
func ParseExclusionList(list string) ExclusionSet {
	return NewExclusionSet(strings.Split(list, ",")...)
}

// ReadExclusionFile reads one tag per line. Lines may carry extra comma-separated
// columns (e.g. "ASSET-96,decommissioned"); only the first column is used. Lines
// starting with # are ignored.
func ReadExclusionFile(filePath string) (ExclusionSet, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open exclusion file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	set := ExclusionSet{}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading exclusion file: %w", err)
		}
		if len(record) < 1 {
			continue
		}
		set.Add(record[0])
	}
	return set, nil
}
