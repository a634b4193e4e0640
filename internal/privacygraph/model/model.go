// Package model holds the typed representation of datasets, collections,
// fields, and the graph built from them: the B and parts of the C data
// model described by the privacy request engine.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medisync/privacygraph/internal/privacygraph/fieldpath"
)

// FieldType is the shape of a field's value.
type FieldType string

const (
	FieldTypeScalar FieldType = "scalar"
	FieldTypeArray  FieldType = "array"
	FieldTypeObject FieldType = "object"
)

// ReferenceDirection says which way values flow across a declared reference.
type ReferenceDirection string

const (
	// DirectionFrom means values observed at the referenced field become
	// inputs for the field declaring the reference.
	DirectionFrom ReferenceDirection = "from"
	// DirectionTo means the reverse: this field's values feed the
	// referenced field.
	DirectionTo ReferenceDirection = "to"
	// DirectionBoth produces edges in both directions.
	DirectionBoth ReferenceDirection = "bidirectional"
)

// FieldAddress identifies a field by dataset, collection, and path within
// the collection. Two addresses are equal iff every component matches.
type FieldAddress struct {
	Dataset    string
	Collection string
	Path       fieldpath.Path
}

// NewFieldAddress builds an address from a dotted field path string.
func NewFieldAddress(dataset, collection, dottedPath string) FieldAddress {
	return FieldAddress{Dataset: dataset, Collection: collection, Path: fieldpath.Parse(dottedPath)}
}

// CollectionAddress identifies a collection independent of any field.
func (a FieldAddress) CollectionAddress() CollectionAddress {
	return CollectionAddress{Dataset: a.Dataset, Collection: a.Collection}
}

// Equal reports structural equality between two addresses.
func (a FieldAddress) Equal(other FieldAddress) bool {
	return a.Dataset == other.Dataset && a.Collection == other.Collection && a.Path.Equal(other.Path)
}

// Key renders a stable string key suitable for map lookups.
func (a FieldAddress) Key() string {
	return fmt.Sprintf("%s.%s.%s", a.Dataset, a.Collection, a.Path.String())
}

func (a FieldAddress) String() string { return a.Key() }

// CollectionAddress identifies a collection by (dataset, collection).
type CollectionAddress struct {
	Dataset    string
	Collection string
}

func (c CollectionAddress) Key() string {
	return fmt.Sprintf("%s.%s", c.Dataset, c.Collection)
}

func (c CollectionAddress) String() string { return c.Key() }

// Reference declares a directed relationship from one field to another.
type Reference struct {
	Target    FieldAddress
	Direction ReferenceDirection
}

// Field is a single addressable field in a collection, possibly nesting
// further fields when Type is object or array.
type Field struct {
	Name           string
	Type           FieldType
	Fields         []*Field // nested children, for object/array types
	PrimaryKey     bool
	DataCategories []fieldpath.Category
	Identity       string // seed-key name, empty if not an identity field
	References     []Reference
}

// Collection is a table or document collection belonging to one dataset.
type Collection struct {
	Name   string
	Fields []*Field
	// After names collection addresses that must be processed before this
	// one even absent a dataflow edge.
	After []CollectionAddress
}

// Dataset is a named group of collections belonging to one connector.
type Dataset struct {
	Name        string
	Dialect     string // "postgres", "redshift", "snowflake", or "mongo"
	// ConnectionURI is the connector's DSN (e.g. a postgres:// URL). Empty
	// for dialects with no live connector (dry-run only).
	ConnectionURI string
	// Schema names the dataset's schema/search_path, consumed by the
	// Redshift dialect.
	Schema      string
	Collections []*Collection
	After       []CollectionAddress
}

// Edge is a directed dependency: values observed at Source become
// candidate filter inputs for Destination.
type Edge struct {
	Source      FieldAddress
	Destination FieldAddress
}

func (e Edge) Key() string {
	return e.Source.Key() + "->" + e.Destination.Key()
}

// RootCollection and TerminatorCollection name the synthetic nodes.
const (
	RootCollection       = "__ROOT__"
	TerminatorCollection = "__TERMINATOR__"
)

// RootAddress builds the synthetic ROOT field address for a seed key.
func RootAddress(seedKey string) FieldAddress {
	return FieldAddress{Dataset: RootCollection, Collection: RootCollection, Path: fieldpath.New(seedKey)}
}

// IsRoot reports whether an address refers to the synthetic ROOT node.
func (a FieldAddress) IsRoot() bool {
	return a.Dataset == RootCollection && a.Collection == RootCollection
}

func (c CollectionAddress) IsRoot() bool {
	return c.Dataset == RootCollection && c.Collection == RootCollection
}

// Row is a mapping from field name to value. A value may itself be a Row,
// a []Row, or a scalar.
type Row map[string]any

// Action is what a policy rule does with matched data.
type Action string

const (
	ActionAccess  Action = "access"
	ActionErasure Action = "erasure"
)

// MaskingStrategy names a transformation applied to an erased field's
// value; the concrete transform is resolved by the engine/query layer.
type MaskingStrategy struct {
	Name   string
	Params map[string]any
}

// RuleTarget names a data category a rule applies to.
type RuleTarget struct {
	DataCategory fieldpath.Category
}

// Rule is one action within a policy.
type Rule struct {
	Name     string
	Action   Action
	Strategy *MaskingStrategy // erasure only
	Targets  []RuleTarget
}

// Policy groups the rules that govern a privacy request's execution.
type Policy struct {
	Key   string
	Rules []Rule
}

// TargetsFor returns the categories targeted by rules of the given action.
func (p Policy) TargetsFor(action Action) []fieldpath.Category {
	var out []fieldpath.Category
	for _, r := range p.Rules {
		if r.Action != action {
			continue
		}
		for _, t := range r.Targets {
			out = append(out, t.DataCategory)
		}
	}
	return out
}

// ErasureRuleFor returns the first erasure rule whose target matches the
// field's categories, or false if none match.
func (p Policy) ErasureRuleFor(fieldCategories []fieldpath.Category) (Rule, bool) {
	for _, r := range p.Rules {
		if r.Action != ActionErasure {
			continue
		}
		for _, t := range r.Targets {
			if fieldpath.MatchesAny([]fieldpath.Category{t.DataCategory}, fieldCategories) {
				return r, true
			}
		}
	}
	return Rule{}, false
}

// ExecutionStatus is the lifecycle state of one node's execution.
type ExecutionStatus string

const (
	StatusInProcessing ExecutionStatus = "in_processing"
	StatusRetrying     ExecutionStatus = "retrying"
	StatusComplete     ExecutionStatus = "complete"
	StatusError        ExecutionStatus = "error"
	StatusPaused       ExecutionStatus = "paused"
)

// ExecutionLog records one state transition of one node's execution.
type ExecutionLog struct {
	ID               uuid.UUID
	PrivacyRequestID uuid.UUID
	Dataset          string
	Collection       string
	Action           Action
	Status           ExecutionStatus
	Message          string
	Timestamp        time.Time
}

// RequestStatus is the overall lifecycle state of a privacy request, as
// opposed to ExecutionStatus which tracks one node.
type RequestStatus string

const (
	RequestQueued   RequestStatus = "queued"
	RequestRunning  RequestStatus = "running"
	RequestComplete RequestStatus = "complete"
	RequestErrored  RequestStatus = "errored"
)

// PrivacyRequest is the identified entity driving one traversal/execution.
type PrivacyRequest struct {
	ID          uuid.UUID
	Seeds       map[string]string
	Categories  []fieldpath.Category
	DatasetKeys []string
	Action      Action
	PolicyKey   string
	Status      RequestStatus
	CreatedAt   time.Time
	CompletedAt *time.Time
	Logs        []ExecutionLog
}

// AddLog appends an execution log entry to the request's in-memory tail.
func (r *PrivacyRequest) AddLog(l ExecutionLog) {
	r.Logs = append(r.Logs, l)
}
