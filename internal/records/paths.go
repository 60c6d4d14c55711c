package records

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Paths maps record keys onto the three filesystem roots.
// Labels and images are read-only; only the output root is ever written.
type Paths struct {
	LabelRoot  string
	ImageRoot  string
	OutputRoot string
}

// LabelPath returns the label file location for a key.
func (p Paths) LabelPath(k Key) string {
	return filepath.Join(p.LabelRoot, k.State, k.School, strconv.Itoa(k.Year), strconv.Itoa(k.Page)+".json")
}

// ImagePath returns the page image location for a key.
func (p Paths) ImagePath(k Key) string {
	return filepath.Join(p.ImageRoot, k.State, k.School, strconv.Itoa(k.Year), strconv.Itoa(k.Page)+".jpg")
}

// OutputPath returns the validated artifact location for a key.
// Presence of this file marks the page Done.
func (p Paths) OutputPath(k Key) string {
	return filepath.Join(p.OutputRoot, k.State, k.School, strconv.Itoa(k.Year), strconv.Itoa(k.Page)+".json")
}

// RunsDir returns the directory for per-run summary artifacts.
func (p Paths) RunsDir() string {
	return filepath.Join(p.OutputRoot, "_runs")
}

// KeyFromLabelPath parses a key from a label path relative to the label root,
// e.g. "AL/Howard/1849/2.json".
func KeyFromLabelPath(rel string) (Key, error) {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 4 {
		return Key{}, fmt.Errorf("label path %q: want state/school/year/page.json", rel)
	}
	name := parts[3]
	if !strings.HasSuffix(name, ".json") {
		return Key{}, fmt.Errorf("label path %q: not a .json file", rel)
	}
	year, err := strconv.Atoi(parts[2])
	if err != nil {
		return Key{}, fmt.Errorf("label path %q: year %q is not an integer", rel, parts[2])
	}
	page, err := strconv.Atoi(strings.TrimSuffix(name, ".json"))
	if err != nil {
		return Key{}, fmt.Errorf("label path %q: page %q is not an integer", rel, name)
	}
	k := Key{State: parts[0], School: parts[1], Year: year, Page: page}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}
