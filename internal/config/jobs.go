package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"encore/internal/schedule"

	"go.yaml.in/yaml/v3"
)

// JobSpec is one entry of the optional job catalog file.
type JobSpec struct {
	Name       string `yaml:"name"`
	Frequency  string `yaml:"frequency"`
	Weekday    string `yaml:"weekday,omitempty"`
	DayOfMonth int    `yaml:"day_of_month,omitempty"`
}

type jobFile struct {
	Jobs []JobSpec `yaml:"jobs"`
}

// LoadJobCatalog reads the catalog file and overlays it on defaults.
// Entries must name a job present in defaults.
func LoadJobCatalog(path string, defaults []schedule.Cursor) ([]schedule.Cursor, error) {
	if strings.TrimSpace(path) == "" {
		return defaults, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open jobs file: %w", err)
	}
	defer f.Close()
	return ParseJobCatalog(f, defaults)
}

func ParseJobCatalog(r io.Reader, defaults []schedule.Cursor) ([]schedule.Cursor, error) {
	var file jobFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode jobs file: %w", err)
	}

	out := append([]schedule.Cursor(nil), defaults...)
	index := make(map[string]int, len(out))
	for i, c := range out {
		index[c.Name] = i
	}
	seen := map[string]bool{}
	for _, spec := range file.Jobs {
		name := strings.TrimSpace(spec.Name)
		i, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q in jobs file", schedule.ErrUnknownJob, name)
		}
		if seen[name] {
			return nil, fmt.Errorf("job %q listed twice in jobs file", name)
		}
		seen[name] = true

		cur, err := spec.cursor()
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", name, err)
		}
		out[i] = cur
	}
	return out, nil
}

func (s JobSpec) cursor() (schedule.Cursor, error) {
	f, err := schedule.ParseFrequency(s.Frequency)
	if err != nil {
		return schedule.Cursor{}, err
	}
	cur := schedule.Cursor{Name: strings.TrimSpace(s.Name), Frequency: f, DayOfMonth: s.DayOfMonth}
	if s.Weekday != "" {
		wd, err := parseWeekday(s.Weekday)
		if err != nil {
			return cur, err
		}
		cur.Weekday = &wd
	}
	return cur, cur.Validate()
}

func parseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}
