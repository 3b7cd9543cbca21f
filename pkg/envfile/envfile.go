// Package envfile reads and rewrites flat KEY=VALUE configuration files such
// as docker/local/.env.
//
// A File keeps the original text as a list of lines. Mutations replace the
// value segment of one line, addressed by index, and leave every other byte
// of the file untouched, so writing back an unmodified File reproduces the
// input exactly. When a key appears more than once, the first occurrence
// wins for both reads and writes.
package envfile

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/magebox/magebox/pkg/faults"
)

// File is an in-memory env file.
type File struct {
	lines []string
	dirty bool
}

// Parse builds a File from raw content.
func Parse(content []byte) *File {
	return &File{lines: strings.Split(string(content), "\n")}
}

// Load reads and parses the file at path.
func Load(path string) (*File, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read env file %s: %w", path, err)
	}
	return Parse(content), nil
}

// Bytes serializes the file.
func (f *File) Bytes() []byte {
	return []byte(strings.Join(f.lines, "\n"))
}

// Dirty reports whether a mutation changed the content since parsing or the
// last MarkClean.
func (f *File) Dirty() bool {
	return f.dirty
}

// MarkClean resets the dirty flag, typically after Save.
func (f *File) MarkClean() {
	f.dirty = false
}

// Save writes the file to path, keeping the existing file mode when present.
func (f *File) Save(path string) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(path, f.Bytes(), mode); err != nil {
		return fmt.Errorf("failed to write env file %s: %w", path, err)
	}
	f.dirty = false
	return nil
}

// assignment is the parsed view of one line.
type assignment struct {
	key        string
	valueStart int
	valueEnd   int
}

// parseLine splits "KEY=value rest" into its key and the byte range of the
// value segment, which is the run of non-space characters after '='.
func parseLine(line string) (assignment, bool) {
	eq := strings.IndexByte(line, '=')
	if eq <= 0 || !validKey(line[:eq]) {
		return assignment{}, false
	}
	end := len(line)
	if i := strings.IndexFunc(line[eq+1:], unicode.IsSpace); i >= 0 {
		end = eq + 1 + i
	}
	return assignment{key: line[:eq], valueStart: eq + 1, valueEnd: end}, true
}

func validKey(key string) bool {
	if key == "" {
		return false
	}
	for i, r := range key {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case i > 0 && unicode.IsDigit(r):
		default:
			return false
		}
	}
	return true
}

// Entry is one assignment line.
type Entry struct {
	Index int
	Key   string
	Value string
}

// Entries returns every assignment line in file order.
func (f *File) Entries() []Entry {
	var entries []Entry
	for i, line := range f.lines {
		a, ok := parseLine(line)
		if !ok {
			continue
		}
		entries = append(entries, Entry{Index: i, Key: a.key, Value: line[a.valueStart:a.valueEnd]})
	}
	return entries
}

// Keys returns the variable names in file order.
func (f *File) Keys() []string {
	entries := f.Entries()
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return keys
}

// Values returns a name to value map; the first occurrence of a key wins.
func (f *File) Values() map[string]string {
	values := make(map[string]string)
	for _, e := range f.Entries() {
		if _, seen := values[e.Key]; !seen {
			values[e.Key] = e.Value
		}
	}
	return values
}

func (f *File) find(name string) (int, assignment, bool) {
	for i, line := range f.lines {
		a, ok := parseLine(line)
		if ok && strings.EqualFold(a.key, name) {
			return i, a, true
		}
	}
	return -1, assignment{}, false
}

// Get returns the value of name, matched case-insensitively, or "" when the
// variable is absent.
func (f *File) Get(name string) string {
	i, a, ok := f.find(name)
	if !ok {
		return ""
	}
	return f.lines[i][a.valueStart:a.valueEnd]
}

// Has reports whether name is assigned in the file.
func (f *File) Has(name string) bool {
	_, _, ok := f.find(name)
	return ok
}

// Set replaces the value of the first line assigning name. A missing name is
// a no-op. Setting a value equal to the current one is a no-op.
func (f *File) Set(name, value string) error {
	if !validKey(name) {
		return faults.NewMutationError(fmt.Sprintf("invalid variable name %q", name), nil)
	}
	i, a, ok := f.find(name)
	if !ok {
		return nil
	}
	return f.rewrite(i, a, value)
}

func (f *File) rewrite(index int, a assignment, value string) error {
	if strings.IndexFunc(value, unicode.IsSpace) >= 0 {
		return faults.NewMutationError(
			fmt.Sprintf("value for %s must not contain whitespace", a.key), nil)
	}
	line := f.lines[index]
	if line[a.valueStart:a.valueEnd] == value {
		return nil
	}
	f.lines[index] = line[:a.valueStart] + value + line[a.valueEnd:]
	f.dirty = true
	return nil
}

// Asker resolves a replacement value for one variable. def is the current
// value; an empty answer keeps it.
type Asker interface {
	Ask(ctx context.Context, question, def string) (string, error)
}

// SectionResult summarizes a ConfigureSection call.
type SectionResult struct {
	Matched int
	Changed int
}

// Empty reports the non-fatal "nothing to configure" outcome.
func (r SectionResult) Empty() bool {
	return r.Matched == 0
}

// ConfigureSection asks for a new value for every variable whose name starts
// with prefix (case-insensitive) and rewrites the lines whose answer is
// non-empty and different. Lines are visited in file order.
func (f *File) ConfigureSection(ctx context.Context, prefix string, asker Asker) (SectionResult, error) {
	var res SectionResult
	lower := strings.ToLower(prefix)

	for i := range f.lines {
		a, ok := parseLine(f.lines[i])
		if !ok || len(a.key) <= len(prefix) || !strings.HasPrefix(strings.ToLower(a.key), lower) {
			continue
		}
		res.Matched++

		current := f.lines[i][a.valueStart:a.valueEnd]
		answer, err := asker.Ask(ctx, a.key, current)
		if err != nil {
			return res, err
		}
		if answer == "" || answer == current {
			continue
		}
		if err := f.rewrite(i, a, answer); err != nil {
			return res, err
		}
		res.Changed++
	}

	return res, nil
}
