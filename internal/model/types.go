// Package model defines the closed data schema shared by every stage of the
// extraction-and-ingestion pipeline: tenant object refs, field metadata,
// the four optional enricher blocks, corpus chunks, cache entries, and
// progress records.
package model

import "time"

// ObjectRef is the opaque, stable identifier of a tenant schema object
// (e.g. "Account", "Contact", "My_Custom_Object__c").
type ObjectRef string

// FieldSpec describes a single field on an object.
type FieldSpec struct {
	Name             string `json:"name"`
	Type             string `json:"type"`
	Required         bool   `json:"required"`
	Unique           bool   `json:"unique"`
	ExternalID       bool   `json:"external_id"`
	Length           *int   `json:"length,omitempty"`
	Precision        *int   `json:"precision,omitempty"`
	Scale            *int   `json:"scale,omitempty"`
	Formula          string `json:"formula,omitempty"`
	RelationshipToRef string `json:"relationship_to,omitempty"`
}

// Relationship describes an object-to-object reference discovered on a
// lookup or master-detail field.
type Relationship struct {
	FieldName      string    `json:"field_name"`
	ToObject       ObjectRef `json:"to_object"`
	Kind           string    `json:"kind"` // "lookup" | "master-detail"
	CascadeDelete  bool      `json:"cascade_delete"`
}

// PicklistBucket is one value/count pair in a picklist distribution.
type PicklistBucket struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// FieldFillRate is the sampled non-null fraction for one field.
type FieldFillRate struct {
	Field    string  `json:"field"`
	NonNull  int64   `json:"non_null"`
	Sampled  int64   `json:"sampled"`
	FillRate float64 `json:"fill_rate"`
}

// StatsBlock holds usage statistics for an object, as fetched by
// StatsEnricher.
type StatsBlock struct {
	RecordCount        int64                       `json:"record_count"`
	FieldFillRates     []FieldFillRate             `json:"field_fill_rates,omitempty"`
	PicklistDistribution map[string][]PicklistBucket `json:"picklist_distribution,omitempty"`
	FreshnessFraction  float64                     `json:"freshness_fraction"`
	TopOwningProfiles  []string                    `json:"top_owning_profiles,omitempty"`
	SampledAt          time.Time                   `json:"sampled_at"`
}

// CodeComplexity summarizes a single trigger's or class's source text.
type CodeComplexity struct {
	Name         string `json:"name"`
	TotalLines   int    `json:"total_lines"`
	CommentLines int    `json:"comment_lines"`
	CodeLines    int    `json:"code_lines"`
}

// AutomationRef names one automation artifact that references the object.
type AutomationRef struct {
	Kind string `json:"kind"` // "flow" | "trigger" | "validation_rule" | "workflow_rule"
	Name string `json:"name"`
	Active bool `json:"active"`
}

// AutomationBlock holds automation metadata for an object, as fetched by
// AutomationEnricher.
type AutomationBlock struct {
	Flows            []AutomationRef  `json:"flows,omitempty"`
	Triggers         []AutomationRef  `json:"triggers,omitempty"`
	ValidationRules  []AutomationRef  `json:"validation_rules,omitempty"`
	WorkflowRules    []AutomationRef  `json:"workflow_rules,omitempty"`
	CodeComplexity   []CodeComplexity `json:"code_complexity,omitempty"`
}

// FieldPermission records who can read/edit a single field.
type FieldPermission struct {
	Field       string   `json:"field"`
	EditableBy  []string `json:"editable_by,omitempty"`
	ReadonlyBy  []string `json:"readonly_by,omitempty"`
}

// ObjectCRUD is the object-level CRUD grant for one profile or permission set.
type ObjectCRUD struct {
	Principal string `json:"principal"`
	Create    bool   `json:"create"`
	Read      bool   `json:"read"`
	Edit      bool   `json:"edit"`
	Delete    bool   `json:"delete"`
}

// SecurityBlock holds field- and object-level security metadata, as
// fetched by FieldSecurityEnricher and OrgSecurityEnricher.
type SecurityBlock struct {
	FieldPermissions []FieldPermission `json:"field_permissions,omitempty"`
	ObjectCRUD       []ObjectCRUD      `json:"object_crud,omitempty"`
}

// FieldHistory records who created/modified a custom field and when, as
// fetched by HistoryEnricher.
type FieldHistory struct {
	Field        string    `json:"field"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
	ModifiedBy   string    `json:"modified_by"`
	ModifiedAt   time.Time `json:"modified_at"`
}

// HistoryBlock holds field-level audit history for an object's custom fields.
type HistoryBlock struct {
	Fields []FieldHistory `json:"fields,omitempty"`
}

// Profile is a tenant-global security principal.
type Profile struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	UserLicense string `json:"user_license,omitempty"`
}

// PermissionSet is a tenant-global, assignable set of grants.
type PermissionSet struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsCustom    bool   `json:"is_custom"`
}

// Role is a tenant-global role-hierarchy node.
type Role struct {
	Name       string `json:"name"`
	ParentRole string `json:"parent_role,omitempty"`
}

// ObjectRecord is the closed, canonical representation of one tenant
// schema object after describe and all requested enrichers have run.
//
// content_hash is the SHA-256 of the canonical (sorted-key) JSON
// serialization of every field below except ContentHash itself. It is
// computed exactly once, after the last enricher for this ref completes,
// by ComputeContentHash.
type ObjectRecord struct {
	Ref           ObjectRef         `json:"ref"`
	Label         string            `json:"label"`
	Description   string            `json:"description,omitempty"`
	Fields        []FieldSpec       `json:"fields"`
	Relationships []Relationship    `json:"relationships,omitempty"`
	Stats         *StatsBlock       `json:"stats,omitempty"`
	Automation    *AutomationBlock  `json:"automation,omitempty"`
	Security      *SecurityBlock    `json:"security,omitempty"`
	History       *HistoryBlock     `json:"history,omitempty"`
	ContentHash   string            `json:"content_hash,omitempty"`
}

// Chunk is one line-delimited-JSON record of the corpus, the atomic unit
// of vector-index upsert.
type Chunk struct {
	ID       string        `json:"id"`
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
}

// ChunkMetadata carries the fields required to reconstruct provenance and
// change-detection state from a chunk alone.
type ChunkMetadata struct {
	ObjectName  string   `json:"object_name"`
	Type        string   `json:"type"`
	ContentHash string   `json:"content_hash"`
	PartIndex   int      `json:"part_index"`
	TotalParts  int      `json:"total_parts"`
	SiblingIDs  []string `json:"sibling_ids"`
}

// CacheEntry is the on-disk representation owned exclusively by the Cache
// Store.
type CacheEntry struct {
	Key           string    `json:"key"`
	DataType      string    `json:"data_type"`
	Payload       []byte    `json:"payload"`
	CreatedAt     time.Time `json:"created_at"`
	SchemaVersion int       `json:"schema_version"`
	Compressed    bool      `json:"compressed"`
}

// Phase names one stage the Orchestrator can select and the Progress
// Store can track independently.
type Phase string

const (
	PhaseEnumerate    Phase = "enumerate"
	PhaseDescribe     Phase = "describe"
	PhaseStats        Phase = "stats"
	PhaseAutomation   Phase = "automation"
	PhaseSecurity     Phase = "security"
	PhaseHistory      Phase = "history"
	PhaseOrgSecurity  Phase = "org-security"
	PhaseEmit         Phase = "emit"
	PhaseUpload       Phase = "upload"
)

// AllPhases lists every phase in dependency order.
var AllPhases = []Phase{
	PhaseEnumerate, PhaseDescribe, PhaseStats, PhaseAutomation,
	PhaseSecurity, PhaseHistory, PhaseOrgSecurity, PhaseEmit, PhaseUpload,
}

// ProgressState is one point on the monotonic
// pending -> in_flight -> done|error lattice.
type ProgressState string

const (
	StatePending  ProgressState = "pending"
	StateInFlight ProgressState = "in_flight"
	StateDone     ProgressState = "done"
	StateError    ProgressState = "error"
)

// ProgressRecord is the per-object, per-phase state owned exclusively by
// the Progress & Resume Store.
type ProgressRecord struct {
	Ref            ObjectRef     `json:"ref"`
	Phase          Phase         `json:"phase"`
	State          ProgressState `json:"state"`
	LastAttemptAt  time.Time     `json:"last_attempt_at"`
	Error          string        `json:"error,omitempty"`
}
