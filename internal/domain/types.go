package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ServiceKind identifies a generation domain. Each kind has its own
// provider chains and its own invoker implementations.
type ServiceKind string

const (
	KindScript ServiceKind = "script"
	KindImage  ServiceKind = "image"
	KindVideo  ServiceKind = "video"
	KindAudio  ServiceKind = "audio"
)

// Kinds returns every service kind in declaration order.
func Kinds() []ServiceKind {
	return []ServiceKind{KindScript, KindImage, KindVideo, KindAudio}
}

// Valid returns true if the kind is a known value.
func (k ServiceKind) Valid() bool {
	switch k {
	case KindScript, KindImage, KindVideo, KindAudio:
		return true
	default:
		return false
	}
}

// Tier is a subscription level. Tiers determine which provider chain a
// task routes through, nothing else in this service.
type Tier string

const (
	TierFree         Tier = "free"
	TierBasic        Tier = "basic"
	TierStandard     Tier = "standard"
	TierPremium      Tier = "premium"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// Tiers returns every tier ordered by entitlement, lowest first.
func Tiers() []Tier {
	return []Tier{TierFree, TierBasic, TierStandard, TierPremium, TierProfessional, TierEnterprise}
}

// Valid returns true if the tier is a known value.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierBasic, TierStandard, TierPremium, TierProfessional, TierEnterprise:
		return true
	default:
		return false
	}
}

// Candidate ranks within a fallback chain.
const (
	RankPrimary   = 0
	RankFallback  = 1
	RankFallback2 = 2
)

// ProviderCandidate is one entry of a fallback chain: an opaque
// provider/model identifier and its position in the chain.
type ProviderCandidate struct {
	ID   string `json:"id"`
	Rank int    `json:"rank"`
}

// AttemptOutcome is the result of trying (or skipping) one candidate.
type AttemptOutcome string

const (
	AttemptSuccess AttemptOutcome = "success"
	AttemptFailed  AttemptOutcome = "failed"
	AttemptSkipped AttemptOutcome = "skipped"
)

// AttemptRecord is one entry of the attempt history produced by a single
// fallback execution. Records are never mutated after the execution
// completes.
type AttemptRecord struct {
	Provider  string         `json:"provider"`
	Rank      int            `json:"rank"`
	Outcome   AttemptOutcome `json:"outcome"`
	Error     string         `json:"error,omitempty"`
	LatencyMs int64          `json:"latency_ms"`
}

// TaskStatus is the externally visible state of a generation task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Terminal returns true for statuses that never change again.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// GenerationTask is one durable unit of generation work. The payload is
// opaque to this service and handed as-is to the provider invoker. The
// task's retry counter counts whole-chain re-executions; per-candidate
// attempts within one execution live in Attempts.
type GenerationTask struct {
	ID              uuid.UUID       `json:"id"`
	Kind            ServiceKind     `json:"kind"`
	Tier            Tier            `json:"tier"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Status          TaskStatus      `json:"status"`
	RetryCount      int             `json:"retry_count"`
	MaxRetries      int             `json:"max_retries"`
	LastAttemptedAt *time.Time      `json:"last_attempted_at,omitempty"`
	ResultURL       string          `json:"result_url,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	Attempts        []AttemptRecord `json:"attempts,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// GenerationResult is what a provider invoker returns on success.
type GenerationResult struct {
	ProviderID  string          `json:"provider_id"`
	ArtifactURL string          `json:"artifact_url"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}
