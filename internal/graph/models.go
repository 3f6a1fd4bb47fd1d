// Package graph implements the Graph Store (component C): CRUD for Concept,
// Claim, SourceChunk, Quote, Community, Artifact, and Relationship, with
// every read and write passing through branch and tenant filters.
package graph

import "time"

// RelationshipStatus is the review-lifecycle state of a Relationship edge.
type RelationshipStatus string

const (
	StatusProposed RelationshipStatus = "PROPOSED"
	StatusAccepted RelationshipStatus = "ACCEPTED"
	StatusRejected RelationshipStatus = "REJECTED"
)

// ClaimStatus is the verification state of a Claim.
type ClaimStatus string

const (
	ClaimProposed ClaimStatus = "PROPOSED"
	ClaimVerified ClaimStatus = "VERIFIED"
	ClaimRejected ClaimStatus = "REJECTED"
)

// IngestionRunStatus is the lifecycle state of an IngestionRun.
type IngestionRunStatus string

const (
	RunRunning   IngestionRunStatus = "RUNNING"
	RunCompleted IngestionRunStatus = "COMPLETED"
	RunPartial   IngestionRunStatus = "PARTIAL"
	RunFailed    IngestionRunStatus = "FAILED"
)

// ProposedEdgePolicy controls visibility of PROPOSED relationships (§4.4).
type ProposedEdgePolicy string

const (
	PolicyAuto ProposedEdgePolicy = "auto"
	PolicyAll  ProposedEdgePolicy = "all"
	PolicyNone ProposedEdgePolicy = "none"
)

// Concept is a node in the knowledge graph (§3).
type Concept struct {
	NodeID          string    `json:"node_id"`
	GraphID         string    `json:"graph_id"`
	Name            string    `json:"name"`
	Domain          string    `json:"domain"`
	Type            string    `json:"type"`
	Description     string    `json:"description"`
	Tags            []string  `json:"tags"`
	Aliases         []string  `json:"aliases"`
	URLSlug         string    `json:"url_slug"`
	LectureSources  []string  `json:"lecture_sources"`
	CreatedBy       string    `json:"created_by"`
	LastUpdatedBy   string    `json:"last_updated_by"`
	CreatedByRunID  string    `json:"created_by_run_id"`
	LastUpdatedRunID string   `json:"last_updated_by_run_id"`
	MasteryLevel    int       `json:"mastery_level"`
	IsMerged        bool      `json:"is_merged"`
	Archived        bool      `json:"archived"`
	OnBranches      []string  `json:"on_branches"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Relationship is a directed, typed edge between two Concepts (§3, §4.4, §4.5).
type Relationship struct {
	RelID             string             `json:"rel_id"`
	GraphID           string             `json:"graph_id"`
	SrcNodeID         string             `json:"src_node_id"`
	DstNodeID         string             `json:"dst_node_id"`
	Predicate         string             `json:"predicate"`
	Status            RelationshipStatus `json:"status"`
	Confidence        float64            `json:"confidence"`
	Method            string             `json:"method"`
	SourceID          string             `json:"source_id"`
	ChunkID           string             `json:"chunk_id"`
	ClaimID           string             `json:"claim_id"`
	Rationale         string             `json:"rationale"`
	IngestionRunID    string             `json:"ingestion_run_id"`
	ReviewedBy        string             `json:"reviewed_by"`
	ReviewedAt        *time.Time         `json:"reviewed_at"`
	SupersedesRelType string             `json:"supersedes_rel_type"`
	OnBranches        []string           `json:"on_branches"`
}

// Claim is an atomic, source-cited assertion (§3).
type Claim struct {
	ClaimID        string      `json:"claim_id"`
	GraphID        string      `json:"graph_id"`
	Text           string      `json:"text"`
	Confidence     float64     `json:"confidence"`
	Method         string      `json:"method"`
	SourceID       string      `json:"source_id"`
	SourceSpan     string      `json:"source_span"`
	ChunkID        string      `json:"chunk_id"`
	Embedding      []float32   `json:"embedding"`
	Status         ClaimStatus `json:"status"`
	EvidenceIDs    []string    `json:"evidence_ids"`
	IngestionRunID string      `json:"ingestion_run_id"`
	MentionedNodeIDs []string  `json:"mentioned_node_ids"`
	OnBranches     []string    `json:"on_branches"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// SourceChunk is a contiguous text slice from an ingested document (§3).
type SourceChunk struct {
	ChunkID    string         `json:"chunk_id"`
	GraphID    string         `json:"graph_id"`
	SourceID   string         `json:"source_id"`
	ChunkIndex int            `json:"chunk_index"`
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata"`
	OnBranches []string       `json:"on_branches"`
}

// Quote is a user-anchored text span, the strongest evidence unit (§3).
type Quote struct {
	QuoteID    string         `json:"quote_id"`
	GraphID    string         `json:"graph_id"`
	Text       string         `json:"text"`
	Anchor     map[string]any `json:"anchor"`
	CapturedAt time.Time      `json:"captured_at"`
	UserNote   string         `json:"user_note"`
	Tags       []string       `json:"tags"`
	OnBranches []string       `json:"on_branches"`
}

// Community is a cluster of concepts with a stored summary (§3).
type Community struct {
	CommunityID      string    `json:"community_id"`
	GraphID          string    `json:"graph_id"`
	Name             string    `json:"name"`
	Summary          string    `json:"summary"`
	SummaryEmbedding []float32 `json:"summary_embedding"`
	BuildVersion     int       `json:"build_version"`
	OnBranches       []string  `json:"on_branches"`
}

// Artifact is an ingested document, identity keyed on content hash (§3).
type Artifact struct {
	ArtifactID  string    `json:"artifact_id"`
	GraphID     string    `json:"graph_id"`
	URLOrSource string    `json:"url_or_source_id"`
	ContentHash string    `json:"content_hash"`
	Title       string    `json:"title"`
	OnBranches  []string  `json:"on_branches"`
	CreatedAt   time.Time `json:"created_at"`
}

// IngestionRun records one invocation of the ingestion pipeline (§3).
type IngestionRun struct {
	RunID         string             `json:"run_id"`
	GraphID       string             `json:"graph_id"`
	SourceType    string             `json:"source_type"`
	SourceLabel   string             `json:"source_label"`
	Status        IngestionRunStatus `json:"status"`
	StartedAt     time.Time          `json:"started_at"`
	CompletedAt   *time.Time         `json:"completed_at"`
	SummaryCounts map[string]int     `json:"summary_counts"`
	UndoneAt      *time.Time         `json:"undone_at"`
	Errors        []string           `json:"errors"`
}

// GraphSpace is the root entity per workspace (§3). RefreshDefaults governs
// the TTL-gated staleness check implemented in refresh.go; new GraphSpaces
// get DefaultRefreshConfig() until a caller opts in via
// Store.SetGraphRefreshDefaults.
type GraphSpace struct {
	GraphID         string        `json:"graph_id"`
	TenantID        string        `json:"tenant_id"`
	Name            string        `json:"name"`
	RefreshDefaults RefreshConfig `json:"refresh_defaults"`
}

// Branch is a (graph_id, branch_id) namespace (§3).
type Branch struct {
	GraphID  string `json:"graph_id"`
	BranchID string `json:"branch_id"`
}

// MainBranch is the branch every GraphSpace always has.
const MainBranch = "main"

// ActiveContext is the resolved scope every read/write is implicitly bound
// to: the active branch within a tenant's graph (§4.1). Defined here rather
// than in package scoping so store.go's query builders can accept it
// without an import cycle; package scoping owns how it gets resolved.
type ActiveContext struct {
	GraphID  string
	BranchID string
	TenantID string
}
