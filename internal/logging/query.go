package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
)

// Entry is one parsed line of a foreman log file.
type Entry struct {
	Time       time.Time      `json:"time"`
	Level      string         `json:"level"`
	Message    string         `json:"msg"`
	PipelineID string         `json:"pipeline_id,omitempty"`
	Stage      string         `json:"stage,omitempty"`
	Component  string         `json:"component,omitempty"`
	Attrs      map[string]any `json:"attrs,omitempty"`
}

// Filter selects log entries. Zero-valued fields match everything and the
// populated ones are combined with AND.
type Filter struct {
	PipelineID string
	Stage      string
	Component  string
	// MinLevel drops entries below this level.
	MinLevel string
	Since    time.Time
	Contains string
}

var levelRank = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ReadEntries parses every JSON line of the log file at path, skipping lines
// that are not valid JSON, and returns the entries ordered by time.
func ReadEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ParseEntries(f)
}

// ParseEntries is ReadEntries over an arbitrary reader.
func ParseEntries(r io.Reader) ([]Entry, error) {
	const maxLine = 1024 * 1024

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLine)

	var entries []Entry
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry, ok := parseEntry(line)
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading log file: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Time.Before(entries[j].Time)
	})
	return entries, nil
}

func parseEntry(line string) (Entry, bool) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Entry{}, false
	}

	take := func(key string) string {
		v, _ := raw[key].(string)
		delete(raw, key)
		return v
	}

	entry := Entry{
		Level:      take("level"),
		Message:    take("msg"),
		PipelineID: take(KeyPipelineID),
		Stage:      take(KeyStage),
		Component:  take(KeyComponent),
	}
	if ts := take("time"); ts != "" {
		entry.Time, _ = time.Parse(time.RFC3339Nano, ts)
	}
	if len(raw) > 0 {
		entry.Attrs = raw
	}
	return entry, true
}

// Match reports whether e satisfies every populated field of f.
func (f Filter) Match(e Entry) bool {
	if f.PipelineID != "" && e.PipelineID != f.PipelineID {
		return false
	}
	if f.Stage != "" && e.Stage != f.Stage {
		return false
	}
	if f.Component != "" && e.Component != f.Component {
		return false
	}
	if f.MinLevel != "" {
		want, okWant := levelRank[strings.ToUpper(f.MinLevel)]
		got, okGot := levelRank[e.Level]
		if okWant && okGot && got < want {
			return false
		}
	}
	if !f.Since.IsZero() && e.Time.Before(f.Since) {
		return false
	}
	if f.Contains != "" && !strings.Contains(e.Message, f.Contains) {
		return false
	}
	return true
}

// Apply returns the entries matching f.
func (f Filter) Apply(entries []Entry) []Entry {
	var out []Entry
	for _, e := range entries {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// WriteText renders entries one per line as
// "[time] LEVEL message (pipeline=..., stage=...) {attrs}".
func WriteText(w io.Writer, entries []Entry) error {
	for _, e := range entries {
		var b strings.Builder
		fmt.Fprintf(&b, "[%s] %-5s %s", e.Time.Format("2006-01-02 15:04:05.000"), e.Level, e.Message)

		var ctx []string
		if e.PipelineID != "" {
			ctx = append(ctx, "pipeline="+e.PipelineID)
		}
		if e.Stage != "" {
			ctx = append(ctx, "stage="+e.Stage)
		}
		if e.Component != "" {
			ctx = append(ctx, "component="+e.Component)
		}
		if len(ctx) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(ctx, ", "))
		}
		if len(e.Attrs) > 0 {
			if attrs, err := json.Marshal(e.Attrs); err == nil {
				b.WriteByte(' ')
				b.Write(attrs)
			}
		}
		b.WriteByte('\n')
		if _, err := io.WriteString(w, b.String()); err != nil {
			return err
		}
	}
	return nil
}
