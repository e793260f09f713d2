package services

import (
	"fmt"

	"github.com/manthysbr/metaingest/internal/core/domain"
)

// ValidateDataset projects the canonical raw shape onto typed records.
// Only recognized fields are read; anything else is dropped.
func ValidateDataset(raw map[string]any) (domain.Dataset, error) {
	ds := domain.Dataset{
		Nodes:    []domain.Node{},
		Edges:    []domain.Edge{},
		Metadata: map[string]any{},
	}

	nodes, err := recordList(raw, "nodes")
	if err != nil {
		return domain.Dataset{}, err
	}
	for i, rec := range nodes {
		node, err := projectNode(rec)
		if err != nil {
			return domain.Dataset{}, recordError("nodes", i, err)
		}
		ds.Nodes = append(ds.Nodes, node)
	}

	edges, err := recordList(raw, "edges")
	if err != nil {
		return domain.Dataset{}, err
	}
	for i, rec := range edges {
		edge, err := projectEdge(rec)
		if err != nil {
			return domain.Dataset{}, recordError("edges", i, err)
		}
		ds.Edges = append(ds.Edges, edge)
	}

	if v, ok := raw["metadata"]; ok && v != nil {
		m, ok := v.(map[string]any)
		if !ok {
			return domain.Dataset{}, domain.NewDatasetError("metadata: must be an object, got %s", jsonKind(v))
		}
		for k, mv := range m {
			ds.Metadata[k] = mv
		}
	}

	if ds.Empty() {
		return domain.Dataset{}, domain.NewDatasetError("Dataset must contain at least one node or edge")
	}
	return ds, nil
}

func recordList(raw map[string]any, key string) ([]any, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, domain.NewDatasetError("%s: must be a list, got %s", key, jsonKind(v))
	}
	return list, nil
}

// fieldError names the offending field; the caller prefixes the record path.
type fieldError struct {
	field string
	msg   string
}

func (e *fieldError) Error() string {
	if e.field == "" {
		return e.msg
	}
	return e.field + ": " + e.msg
}

func recordError(collection string, index int, err error) error {
	if fe, ok := err.(*fieldError); ok && fe.field != "" {
		return domain.NewDatasetError("%s[%d].%s", collection, index, fe)
	}
	return domain.NewDatasetError("%s[%d]: %s", collection, index, err)
}

func projectNode(v any) (domain.Node, error) {
	rec, ok := v.(map[string]any)
	if !ok {
		return domain.Node{}, &fieldError{msg: fmt.Sprintf("must be an object, got %s", jsonKind(v))}
	}

	var (
		n   domain.Node
		err error
	)
	if n.ID, err = requiredString(rec, "id"); err != nil {
		return n, err
	}
	if n.Type, err = requiredString(rec, "type"); err != nil {
		return n, err
	}
	if n.Properties, err = requiredObject(rec, "properties"); err != nil {
		return n, err
	}
	if n.CreatedBy, err = optionalString(rec, "createdBy"); err != nil {
		return n, err
	}
	if n.UpdatedBy, err = optionalString(rec, "updatedBy"); err != nil {
		return n, err
	}
	return n, nil
}

func projectEdge(v any) (domain.Edge, error) {
	rec, ok := v.(map[string]any)
	if !ok {
		return domain.Edge{}, &fieldError{msg: fmt.Sprintf("must be an object, got %s", jsonKind(v))}
	}

	var (
		e   domain.Edge
		err error
	)
	if e.ID, err = requiredString(rec, "id"); err != nil {
		return e, err
	}
	if e.SourceID, err = requiredString(rec, "sourceId"); err != nil {
		return e, err
	}
	if e.TargetID, err = requiredString(rec, "targetId"); err != nil {
		return e, err
	}
	if e.Type, err = requiredString(rec, "type"); err != nil {
		return e, err
	}
	if e.Properties, err = requiredObject(rec, "properties"); err != nil {
		return e, err
	}
	if e.CreatedBy, err = optionalString(rec, "createdBy"); err != nil {
		return e, err
	}
	if e.UpdatedBy, err = optionalString(rec, "updatedBy"); err != nil {
		return e, err
	}
	return e, nil
}

func requiredString(rec map[string]any, field string) (string, error) {
	v, ok := rec[field]
	if !ok || v == nil {
		return "", &fieldError{field: field, msg: "field required"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &fieldError{field: field, msg: fmt.Sprintf("must be a string, got %s", jsonKind(v))}
	}
	return s, nil
}

func optionalString(rec map[string]any, field string) (string, error) {
	v, ok := rec[field]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &fieldError{field: field, msg: fmt.Sprintf("must be a string, got %s", jsonKind(v))}
	}
	return s, nil
}

func requiredObject(rec map[string]any, field string) (domain.Properties, error) {
	v, ok := rec[field]
	if !ok || v == nil {
		return nil, &fieldError{field: field, msg: "field required"}
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, &fieldError{field: field, msg: fmt.Sprintf("must be an object, got %s", jsonKind(v))}
	}
	return domain.Properties(m), nil
}
