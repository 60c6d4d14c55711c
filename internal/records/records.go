// Package records defines the identity of pages and books in the workload
// and the mapping between record keys and filesystem paths.
package records

import (
	"fmt"
	"strconv"
	"strings"
)

// Key identifies a single page: one inference unit.
// Serialized form is "state:school:year:page".
type Key struct {
	State  string
	School string
	Year   int
	Page   int
}

// Book groups the pages that form a dependency chain.
type Book struct {
	State  string
	School string
	Year   int
}

// String returns the canonical serialized form of the key.
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%d:%d", k.State, k.School, k.Year, k.Page)
}

// Book returns the book this key belongs to.
func (k Key) Book() Book {
	return Book{State: k.State, School: k.School, Year: k.Year}
}

// Validate checks the key's structural constraints.
func (k Key) Validate() error {
	if k.State == "" {
		return fmt.Errorf("record key: empty state")
	}
	if k.School == "" {
		return fmt.Errorf("record key: empty school")
	}
	if strings.Contains(k.State, ":") {
		return fmt.Errorf("record key: state %q contains a colon", k.State)
	}
	if strings.Contains(k.School, ":") {
		return fmt.Errorf("record key: school %q contains a colon", k.School)
	}
	if k.Year <= 0 {
		return fmt.Errorf("record key: year %d is not positive", k.Year)
	}
	if k.Page <= 0 {
		return fmt.Errorf("record key: page %d is not positive", k.Page)
	}
	return nil
}

// ParseKey parses the serialized "state:school:year:page" form.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return Key{}, fmt.Errorf("record key %q: want 4 colon-separated parts, got %d", s, len(parts))
	}
	year, err := strconv.Atoi(parts[2])
	if err != nil {
		return Key{}, fmt.Errorf("record key %q: year %q is not an integer", s, parts[2])
	}
	page, err := strconv.Atoi(parts[3])
	if err != nil {
		return Key{}, fmt.Errorf("record key %q: page %q is not an integer", s, parts[3])
	}
	k := Key{State: parts[0], School: parts[1], Year: year, Page: page}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// Less orders keys by (state, school, year, page) with numeric year and page.
func (k Key) Less(other Key) bool {
	if k.State != other.State {
		return k.State < other.State
	}
	if k.School != other.School {
		return k.School < other.School
	}
	if k.Year != other.Year {
		return k.Year < other.Year
	}
	return k.Page < other.Page
}

// String returns the book's "state:school:year" form, used in log output.
func (b Book) String() string {
	return fmt.Sprintf("%s:%s:%d", b.State, b.School, b.Year)
}
