package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// User owns all downstream resources. Users are created on signup and never
// deleted by the control plane.
type User struct {
	ID               string    `db:"id" json:"id"`
	Email            string    `db:"email" json:"email"`
	PasswordVerifier string    `db:"password_verifier" json:"-"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
}

// APIKey is a long-lived credential. The secret is shown once at creation;
// only its hash and prefix are stored.
type APIKey struct {
	ID           string     `db:"id" json:"id"`
	UserID       string     `db:"user_id" json:"userId"`
	Prefix       string     `db:"prefix" json:"prefix"`
	HashedSecret string     `db:"hashed_secret" json:"-"`
	Name         string     `db:"name" json:"name"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	LastUsedAt   *time.Time `db:"last_used_at" json:"lastUsedAt,omitempty"`
	RevokedAt    *time.Time `db:"revoked_at" json:"revokedAt,omitempty"`
}

// Environment is a named, user-owned configuration template with a linear
// sequence of immutable versions.
type Environment struct {
	ID               string    `db:"id" json:"id"`
	UserID           string    `db:"user_id" json:"userId"`
	Name             string    `db:"name" json:"name"`
	CurrentVersionID *string   `db:"current_version_id" json:"currentVersionId,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time `db:"updated_at" json:"updatedAt"`
}

// EnvironmentVersion is an immutable snapshot of an environment's
// configuration. Exactly one of Image/Dockerfile is populated. The encrypted
// secrets map is the single exception to immutability: it is late-bound
// metadata mutated in place on the current version.
type EnvironmentVersion struct {
	ID               string       `db:"id" json:"id"`
	EnvironmentID    string       `db:"environment_id" json:"environmentId"`
	Version          int          `db:"version" json:"version"`
	Image            *string      `db:"image" json:"image,omitempty"`
	Dockerfile       *string      `db:"dockerfile" json:"dockerfile,omitempty"`
	BuildFiles       StringMap    `db:"build_files" json:"buildFiles,omitempty"`
	Command          *string      `db:"command" json:"command,omitempty"`
	CPU              float64      `db:"cpu" json:"cpu"`
	MemoryMB         int          `db:"memory_mb" json:"memoryMb"`
	Ports            PortMappings `db:"ports" json:"ports"`
	Env              StringMap    `db:"env" json:"env"`
	SecretsEncrypted StringMap    `db:"secrets_encrypted" json:"-"`
	Mounts           Mounts       `db:"mounts" json:"mounts,omitempty"`
	CreatedAt        time.Time    `db:"created_at" json:"createdAt"`
}

// SandboxStatus is the coarse user-visible lifecycle state.
type SandboxStatus string

const (
	StatusPending SandboxStatus = "pending"
	StatusRunning SandboxStatus = "running"
	StatusStopped SandboxStatus = "stopped"
	StatusError   SandboxStatus = "error"
	StatusExpired SandboxStatus = "expired"
)

// SandboxPhase is the finer provisioning sub-state.
type SandboxPhase string

const (
	PhaseCreating SandboxPhase = "creating"
	PhaseStarting SandboxPhase = "starting"
	PhaseHealthy  SandboxPhase = "healthy"
	PhaseStopping SandboxPhase = "stopping"
	PhaseStopped  SandboxPhase = "stopped"
	PhaseFailed   SandboxPhase = "failed"
)

// Sandbox is a concrete container instance derived from one environment
// version. (user_id, environment_id, name) is the idempotency key.
type Sandbox struct {
	ID                   string        `db:"id" json:"id"`
	UserID               string        `db:"user_id" json:"userId"`
	EnvironmentID        string        `db:"environment_id" json:"environmentId"`
	EnvironmentVersionID string        `db:"environment_version_id" json:"environmentVersionId"`
	Name                 string        `db:"name" json:"name"`
	ContainerRef         *string       `db:"container_ref" json:"containerRef,omitempty"`
	Status               SandboxStatus `db:"status" json:"status"`
	Phase                SandboxPhase  `db:"phase" json:"phase"`
	Ports                PortMappings  `db:"ports" json:"ports"`
	CreatedAt            time.Time     `db:"created_at" json:"createdAt"`
	StartedAt            *time.Time    `db:"started_at" json:"startedAt,omitempty"`
	StoppedAt            *time.Time    `db:"stopped_at" json:"stoppedAt,omitempty"`
	ExpiresAt            *time.Time    `db:"expires_at" json:"expiresAt,omitempty"`
	ProvisionProgress    int           `db:"provision_progress" json:"provisionProgress"`
	ProvisionStatus      string        `db:"provision_status" json:"provisionStatus"`
}

// LogStream identifies which side of the multiplexed container output a log
// line came from.
type LogStream string

const (
	StreamStdout LogStream = "stdout"
	StreamStderr LogStream = "stderr"
)

// SandboxLog is one captured output line, already redacted.
type SandboxLog struct {
	ID        int64     `db:"id" json:"id"`
	SandboxID string    `db:"sandbox_id" json:"sandboxId"`
	Stream    LogStream `db:"stream" json:"stream"`
	Text      string    `db:"text" json:"text"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
}

// AuditEntry is an append-only record of a user-visible action.
type AuditEntry struct {
	ID           int64     `db:"id" json:"id"`
	UserID       string    `db:"user_id" json:"userId"`
	Action       string    `db:"action" json:"action"`
	ResourceType string    `db:"resource_type" json:"resourceType"`
	ResourceID   string    `db:"resource_id" json:"resourceId"`
	Metadata     StringMap `db:"metadata" json:"metadata,omitempty"`
	ClientIP     *string   `db:"client_ip" json:"clientIp,omitempty"`
	ClientAgent  *string   `db:"client_agent" json:"clientAgent,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// PortMapping maps a container port to a host port.
type PortMapping struct {
	Container int `json:"container"`
	Host      int `json:"host"`
}

// Mount is a named volume target inside the container. Host bind mounts are
// never allowed.
type Mount struct {
	Name   string `json:"name"`
	Target string `json:"target"`
}

// ContainerMetrics is a one-shot resource sample.
type ContainerMetrics struct {
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryUsage   uint64  `json:"memoryUsage"`
	MemoryLimit   uint64  `json:"memoryLimit"`
	MemoryPercent float64 `json:"memoryPercent"`
	NetworkRx     uint64  `json:"networkRx"`
	NetworkTx     uint64  `json:"networkTx"`
	BlockRead     uint64  `json:"blockRead"`
	BlockWrite    uint64  `json:"blockWrite"`
}

// PortMappings is a JSON column of port mappings.
type PortMappings []PortMapping

// StringMap is a JSON column of string pairs (env vars, encrypted secrets,
// build files, audit metadata).
type StringMap map[string]string

// Mounts is a JSON column of volume mounts.
type Mounts []Mount

func jsonValue(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal column: %w", err)
	}
	return b, nil
}

func jsonScan(dst interface{}, src interface{}) error {
	switch s := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(s, dst)
	case string:
		return json.Unmarshal([]byte(s), dst)
	default:
		return fmt.Errorf("unsupported column type %T", src)
	}
}

func (p PortMappings) Value() (driver.Value, error) { return jsonValue([]PortMapping(p)) }
func (p *PortMappings) Scan(src interface{}) error  { return jsonScan((*[]PortMapping)(p), src) }

func (m StringMap) Value() (driver.Value, error) {
	if m == nil {
		m = StringMap{}
	}
	return jsonValue(map[string]string(m))
}
func (m *StringMap) Scan(src interface{}) error { return jsonScan((*map[string]string)(m), src) }

func (m Mounts) Value() (driver.Value, error) { return jsonValue([]Mount(m)) }
func (m *Mounts) Scan(src interface{}) error  { return jsonScan((*[]Mount)(m), src) }
