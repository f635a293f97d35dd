package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// SchemaError marks a conversation file whose columns could not be resolved.
// The conversation is excluded from classification and counted as unparseable.
type SchemaError struct {
	File   string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error in %s: %s", e.File, e.Reason)
}

// Header synonyms per column role, matched case-insensitively in table
// order. The first matching column (in column order) wins for each role.
var (
	timestampSynonyms  = []string{"message time", "timestamp", "time", "sent at", "created at", "date"}
	speakerSynonyms    = []string{"sender type", "sender", "speaker", "role", "from", "author", "participant"}
	messageSynonyms    = []string{"message", "message text", "text", "content", "body", "msg"}
	structuredSynonyms = []string{"structured data", "payload", "metadata", "attachments"}
)

var userSpeakers = map[string]bool{
	"web": true, "user": true, "customer": true, "client": true, "visitor": true, "human": true,
}

var botSpeakers = map[string]bool{
	"bot": true, "assistant": true, "agent": true, "system": true, "ai": true,
}

type columnMap struct {
	timestamp  int
	speaker    int
	message    int
	structured int
}

// detectColumns resolves header roles against the synonym tables. Roles are
// resolved in a fixed order and a column claimed by one role is not offered
// to the next, so "Message Time" cannot shadow the message column.
func detectColumns(header []string) (columnMap, error) {
	normalized := make([]string, len(header))
	for i, h := range header {
		normalized[i] = strings.ToLower(strings.TrimSpace(h))
	}
	claimed := make(map[int]bool)

	find := func(synonyms []string) int {
		for i, h := range normalized {
			if claimed[i] || h == "" {
				continue
			}
			for _, syn := range synonyms {
				if h == syn || strings.Contains(h, syn) {
					claimed[i] = true
					return i
				}
			}
		}
		return -1
	}

	cm := columnMap{
		timestamp:  find(timestampSynonyms),
		speaker:    find(speakerSynonyms),
		message:    find(messageSynonyms),
		structured: find(structuredSynonyms),
	}

	var missing []string
	if cm.speaker == -1 {
		missing = append(missing, "speaker")
	}
	if cm.timestamp == -1 {
		missing = append(missing, "timestamp")
	}
	if cm.message == -1 {
		missing = append(missing, "message")
	}
	if len(missing) > 0 {
		return cm, fmt.Errorf("no column for required role(s): %s", strings.Join(missing, ", "))
	}
	return cm, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func inferSpeaker(s string) SpeakerRole {
	v := strings.ToLower(strings.TrimSpace(s))
	switch {
	case userSpeakers[v]:
		return SpeakerUser
	case botSpeakers[v]:
		return SpeakerBot
	default:
		return SpeakerUnknown
	}
}

// LoadConversationFile reads one tabular file and normalizes it into a
// ConversationRecord. A *SchemaError return means the file is unparseable;
// the run continues without it.
func LoadConversationFile(path string) (ConversationRecord, error) {
	id := filepath.Base(path)
	rows, err := readTabular(path)
	if err != nil {
		return ConversationRecord{}, &SchemaError{File: id, Reason: err.Error()}
	}
	return buildRecord(id, rows)
}

func readTabular(path string) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open: %w", err)
		}
		defer f.Close()
		r := csv.NewReader(f)
		r.FieldsPerRecord = -1 // exports are ragged, tolerate it
		rows, err := r.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		return rows, nil
	case ".xlsx", ".xlsm":
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("open workbook: %w", err)
		}
		defer f.Close()
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook has no sheets")
		}
		rows, err := f.GetRows(sheets[0])
		if err != nil {
			return nil, fmt.Errorf("read rows: %w", err)
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
}

// buildRecord turns raw rows into ordered Turns. Rows with an empty message
// are dropped. A timestamp that fails to parse does not reject the row; it
// only degrades ordering for that row (original row order is kept).
func buildRecord(id string, rows [][]string) (ConversationRecord, error) {
	if len(rows) == 0 {
		return ConversationRecord{}, &SchemaError{File: id, Reason: "file is empty"}
	}
	cm, err := detectColumns(rows[0])
	if err != nil {
		return ConversationRecord{}, &SchemaError{File: id, Reason: err.Error()}
	}

	cell := func(row []string, idx int) string {
		if idx < 0 || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	var turns []Turn
	for _, row := range rows[1:] {
		msg := cell(row, cm.message)
		if msg == "" {
			continue
		}
		ts, ok := parseTimestamp(cell(row, cm.timestamp))
		turns = append(turns, Turn{
			Speaker:      inferSpeaker(cell(row, cm.speaker)),
			Timestamp:    ts,
			HasTimestamp: ok,
			Text:         msg,
			Structured:   cell(row, cm.structured),
		})
	}
	if len(turns) == 0 {
		return ConversationRecord{}, &SchemaError{File: id, Reason: "no rows with a message"}
	}

	// Stable sort: rows with parseable timestamps order by time, ties and
	// timestamp-less rows keep original row order.
	sort.SliceStable(turns, func(i, j int) bool {
		if !turns[i].HasTimestamp || !turns[j].HasTimestamp {
			return false
		}
		return turns[i].Timestamp.Before(turns[j].Timestamp)
	})

	return ConversationRecord{ID: id, Turns: turns}, nil
}

// discoverInputFiles expands the input glob in deterministic order and
// applies the optional sample limit.
func discoverInputFiles(glob string, limit int) ([]string, error) {
	files, err := filepath.Glob(glob)
	if err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("bad input glob %q: %v", glob, err)}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, &ConfigError{Reason: fmt.Sprintf("no input files match %q", glob)}
	}
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}
