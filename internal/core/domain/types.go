package domain

// Properties is the open attribute map carried by nodes and edges.
type Properties map[string]any

// Node is a graph vertex as sent to the metadata API.
type Node struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Properties Properties `json:"properties"`
	CreatedBy  string     `json:"createdBy,omitempty"`
	UpdatedBy  string     `json:"updatedBy,omitempty"`
}

// Edge links two nodes by id. Endpoint existence is the API's concern.
type Edge struct {
	ID         string     `json:"id"`
	SourceID   string     `json:"sourceId"`
	TargetID   string     `json:"targetId"`
	Type       string     `json:"type"`
	Properties Properties `json:"properties"`
	CreatedBy  string     `json:"createdBy,omitempty"`
	UpdatedBy  string     `json:"updatedBy,omitempty"`
}

// Dataset is the canonical, validated form every input format converges to.
type Dataset struct {
	Nodes    []Node         `json:"nodes"`
	Edges    []Edge         `json:"edges"`
	Metadata map[string]any `json:"metadata"`
}

// Empty reports whether the dataset has neither nodes nor edges.
func (d Dataset) Empty() bool {
	return len(d.Nodes) == 0 && len(d.Edges) == 0
}

// Attribution is implemented by records carrying createdBy/updatedBy.
type Attribution interface {
	Attribute(actor string)
}

// Attribute defaults CreatedBy to actor and UpdatedBy to the resolved
// CreatedBy. Present values are kept.
func (n *Node) Attribute(actor string) {
	n.CreatedBy, n.UpdatedBy = attribute(n.CreatedBy, n.UpdatedBy, actor)
}

func (e *Edge) Attribute(actor string) {
	e.CreatedBy, e.UpdatedBy = attribute(e.CreatedBy, e.UpdatedBy, actor)
}

func attribute(createdBy, updatedBy, actor string) (string, string) {
	if createdBy == "" {
		createdBy = actor
	}
	if updatedBy == "" {
		updatedBy = createdBy
	}
	return createdBy, updatedBy
}
