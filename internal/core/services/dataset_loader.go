package services

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/manthysbr/metaingest/internal/core/domain"
)

// DatasetFormat names an accepted input encoding.
type DatasetFormat string

const (
	FormatJSON   DatasetFormat = "json"
	FormatNDJSON DatasetFormat = "ndjson"
	FormatCSV    DatasetFormat = "csv"
)

// ParseDatasetFormat normalizes a user supplied format identifier.
func ParseDatasetFormat(s string) (DatasetFormat, error) {
	switch f := DatasetFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatNDJSON, FormatCSV:
		return f, nil
	}
	return "", domain.NewDatasetError("Unsupported dataset format: %s", s)
}

// maxLineSize bounds a single NDJSON line.
const maxLineSize = 64 * 1024 * 1024

// DatasetLoader reads a dataset file in one format and returns the
// canonical, validated dataset.
type DatasetLoader struct {
	format string
	newID  func() string
}

func NewDatasetLoader(format string) *DatasetLoader {
	return &DatasetLoader{
		format: format,
		newID: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")
		},
	}
}

// Load parses and validates the file at path.
func (l *DatasetLoader) Load(path string) (domain.Dataset, error) {
	raw, err := l.loadRaw(path)
	if err != nil {
		return domain.Dataset{}, err
	}
	return ValidateDataset(raw)
}

// loadRaw parses the file into the canonical
// {"nodes": [...], "edges": [...], "metadata": {...}} shape without
// validating individual records.
func (l *DatasetLoader) loadRaw(path string) (map[string]any, error) {
	format, err := ParseDatasetFormat(l.format)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.NewDatasetError("Dataset file %s does not exist", path)
		}
		return nil, &domain.DatasetError{Msg: fmt.Sprintf("Dataset file %s is not readable", path), Err: err}
	}

	var payloads []map[string]any
	switch format {
	case FormatJSON:
		payload, err := l.loadJSON(path)
		if err != nil {
			return nil, err
		}
		payloads = []map[string]any{payload}
	case FormatNDJSON:
		payloads, err = l.loadNDJSON(path)
		if err != nil {
			return nil, err
		}
	case FormatCSV:
		payload, err := l.loadCSV(path)
		if err != nil {
			return nil, err
		}
		payloads = []map[string]any{payload}
	}

	return mergePayloads(payloads)
}

func (l *DatasetLoader) loadJSON(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.DatasetError{Msg: "failed to read dataset file", Err: err}
	}
	payload, err := decodeObject(data)
	if err != nil {
		return nil, &domain.DatasetError{Msg: "Dataset file is not valid JSON", Err: err}
	}
	return payload, nil
}

func (l *DatasetLoader) loadNDJSON(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &domain.DatasetError{Msg: "failed to open dataset file", Err: err}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var payloads []map[string]any
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		payload, err := decodeObject(line)
		if err != nil {
			return nil, &domain.DatasetError{
				Msg: fmt.Sprintf("NDJSON file contains invalid JSON line %d", lineNo),
				Err: err,
			}
		}
		payloads = append(payloads, payload)
	}
	if err := scanner.Err(); err != nil {
		return nil, &domain.DatasetError{Msg: "failed to read NDJSON file", Err: err}
	}
	if len(payloads) == 0 {
		return nil, domain.NewDatasetError("NDJSON file is empty")
	}
	return payloads, nil
}

func (l *DatasetLoader) loadCSV(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &domain.DatasetError{Msg: "failed to open dataset file", Err: err}
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, domain.NewDatasetError("CSV file is empty or missing node/edge rows")
	}
	if err != nil {
		return nil, &domain.DatasetError{Msg: "CSV file is malformed", Err: err}
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	nodes := []any{}
	edges := []any{}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &domain.DatasetError{Msg: "CSV file is malformed", Err: err}
		}

		clean := make(map[string]string, len(header))
		for i, column := range header {
			if i >= len(row) {
				break
			}
			if v := row[i]; v != "" && v != "null" {
				clean[column] = v
			}
		}

		properties := coerceProperties(clean["properties"])
		id := clean["id"]
		if id == "" {
			id = l.newID()
		}

		sourceID, hasSource := clean["sourceId"]
		targetID, hasTarget := clean["targetId"]
		if hasSource && hasTarget {
			edge := map[string]any{
				"id":         id,
				"sourceId":   sourceID,
				"targetId":   targetID,
				"type":       valueOr(clean, "type", "link"),
				"properties": properties,
			}
			copyAttribution(clean, edge)
			edges = append(edges, edge)
			continue
		}

		node := map[string]any{
			"id":         id,
			"type":       valueOr(clean, "type", "node"),
			"properties": properties,
		}
		copyAttribution(clean, node)
		nodes = append(nodes, node)
	}

	if len(nodes) == 0 && len(edges) == 0 {
		return nil, domain.NewDatasetError("CSV file is empty or missing node/edge rows")
	}
	return map[string]any{"nodes": nodes, "edges": edges, "metadata": map[string]any{}}, nil
}

// coerceProperties decodes a CSV properties cell. Cells that are not a JSON
// object are kept verbatim under "raw".
func coerceProperties(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	props, err := decodeObject([]byte(raw))
	if err != nil {
		return map[string]any{"raw": raw}
	}
	return props
}

func copyAttribution(clean map[string]string, record map[string]any) {
	for _, key := range []string{"createdBy", "updatedBy"} {
		if v, ok := clean[key]; ok {
			record[key] = v
		}
	}
}

func valueOr(m map[string]string, key, fallback string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return fallback
}

// decodeObject decodes exactly one JSON object, keeping numbers as json.Number.
func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after top-level value")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("top-level value must be an object, got %s", jsonKind(v))
	}
	return obj, nil
}

// mergePayloads concatenates nodes and edges in order and merges metadata
// key by key, later payloads winning.
func mergePayloads(payloads []map[string]any) (map[string]any, error) {
	nodes := []any{}
	edges := []any{}
	metadata := map[string]any{}

	for i, payload := range payloads {
		where := ""
		if len(payloads) > 1 {
			where = fmt.Sprintf("record %d: ", i+1)
		}

		if v, ok := payload["nodes"]; ok && v != nil {
			list, ok := v.([]any)
			if !ok {
				return nil, domain.NewDatasetError("%snodes: must be a list, got %s", where, jsonKind(v))
			}
			nodes = append(nodes, list...)
		}
		if v, ok := payload["edges"]; ok && v != nil {
			list, ok := v.([]any)
			if !ok {
				return nil, domain.NewDatasetError("%sedges: must be a list, got %s", where, jsonKind(v))
			}
			edges = append(edges, list...)
		}
		if v, ok := payload["metadata"]; ok && v != nil {
			m, ok := v.(map[string]any)
			if !ok {
				return nil, domain.NewDatasetError("%smetadata: must be an object, got %s", where, jsonKind(v))
			}
			for k, mv := range m {
				metadata[k] = mv
			}
		}
	}

	return map[string]any{"nodes": nodes, "edges": edges, "metadata": metadata}, nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number, float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "list"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}
