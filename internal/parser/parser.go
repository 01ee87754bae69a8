// Package parser decodes records vault files: YAML frontmatter plus a Markdown body.
package parser

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/starford/casefile/internal/models"
)

const delim = "---"

// ErrNoFrontmatter is returned when a record has no frontmatter block.
var ErrNoFrontmatter = errors.New("parser: missing frontmatter")

// Record holds the output of parsing a records vault file.
type Record struct {
	Frontmatter map[string]any
	Body        string
}

// ID returns the frontmatter "id".
func (r *Record) ID() string { return String(r.Frontmatter, "id") }

// Parse splits data into frontmatter and body. Records without a
// frontmatter block or with invalid YAML are rejected.
func Parse(data []byte) (*Record, error) {
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, ErrNoFrontmatter
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, ErrNoFrontmatter
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	fm := map[string]any{}
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return nil, fmt.Errorf("parser: invalid frontmatter: %w", err)
	}
	return &Record{Frontmatter: fm, Body: strings.TrimRight(body, "\n\r")}, nil
}

// ReadFrontmatter reads only the frontmatter block from r and stops at the
// closing delimiter without consuming the body.
func ReadFrontmatter(r io.Reader) (map[string]any, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	started := false
	var block bytes.Buffer
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if !started {
			if strings.TrimSpace(line) == "" {
				continue
			}
			if line != delim {
				return nil, ErrNoFrontmatter
			}
			started = true
			continue
		}
		if line == delim {
			fm := map[string]any{}
			if err := yaml.Unmarshal(block.Bytes(), &fm); err != nil {
				return nil, fmt.Errorf("parser: invalid frontmatter: %w", err)
			}
			return fm, nil
		}
		block.WriteString(line)
		block.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("parser: read frontmatter: %w", err)
	}
	return nil, ErrNoFrontmatter
}

// String returns fm[key] rendered as a string, or "".
func String(fm map[string]any, key string) string {
	switch v := fm[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}

// Strings returns fm[key] as a list. A scalar becomes a one-element list.
func Strings(fm map[string]any, key string) []string {
	switch v := fm[key].(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s := strings.TrimSpace(fmt.Sprint(item))
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		s := String(fm, key)
		if s == "" {
			return nil
		}
		return []string{s}
	}
}

// Int returns fm[key] as an int, or 0.
func Int(fm map[string]any, key string) int {
	switch v := fm[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(v))
		return n
	}
	return 0
}

// Time returns fm[key] as a time. YAML timestamps and RFC 3339 strings are
// accepted; the second result is false when the key is absent or malformed.
func Time(fm map[string]any, key string) (time.Time, bool) {
	switch v := fm[key].(type) {
	case time.Time:
		return v, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// Stamp extracts the id and last-edited time of a record's frontmatter,
// falling back to modTime when last_edited is absent.
func Stamp(fm map[string]any, modTime time.Time) (models.EntityStamp, error) {
	id := String(fm, "id")
	if id == "" {
		return models.EntityStamp{}, errors.New("parser: record has no id")
	}
	ts, ok := Time(fm, "last_edited")
	if !ok {
		ts = modTime
	}
	return models.EntityStamp{ID: id, LastModified: ts.UTC()}, nil
}

// Decode converts a record into the JSON payload of the given entity type.
func Decode(rec *Record, entityType models.EntityType) (json.RawMessage, error) {
	fm := rec.Frontmatter
	id := String(fm, "id")
	if id == "" {
		return nil, errors.New("parser: record has no id")
	}

	var v any
	switch entityType {
	case models.EntityToken:
		v = models.Token{
			ID:              id,
			Name:            String(fm, "name"),
			Owners:          Strings(fm, "owners"),
			MemoryType:      String(fm, "memory_type"),
			ValueRating:     Int(fm, "value_rating"),
			Group:           String(fm, "group"),
			Summary:         String(fm, "summary"),
			FullDescription: rec.Body,
			RFID:            String(fm, "rfid"),
		}
	case models.EntityCharacter:
		v = models.Character{
			ID:      id,
			Name:    String(fm, "name"),
			Cluster: strings.ToUpper(String(fm, "cluster")),
			Tier:    String(fm, "tier"),
		}
	case models.EntityTimeline:
		desc := String(fm, "description")
		if desc == "" {
			desc = rec.Body
		}
		v = models.TimelineEvent{
			ID:          id,
			Description: desc,
			Date:        String(fm, "date"),
			Characters:  Strings(fm, "characters"),
		}
	case models.EntityPhoto:
		caption := String(fm, "caption")
		if caption == "" {
			caption = rec.Body
		}
		v = models.Photo{
			ID:         id,
			Caption:    caption,
			Characters: Strings(fm, "characters"),
		}
	default:
		return nil, fmt.Errorf("parser: unknown entity type %q", entityType)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("parser: encode %s %s: %w", entityType, id, err)
	}
	return data, nil
}

// Matches reports whether every filter key equals the frontmatter scalar
// (case-insensitive). List values match when any element equals.
func Matches(fm map[string]any, filter map[string]string) bool {
	for k, want := range filter {
		found := false
		for _, have := range Strings(fm, k) {
			if strings.EqualFold(have, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
