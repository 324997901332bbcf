package models

import (
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

const ArtifactResourceKind ResourceKind = "artifact"

const (
	HashTypeSHA256 HashType = "sha256"
)

// HashType is the hashing algorithm used to hash artifact data.
type HashType string

func (m HashType) Valid() bool {
	return m == HashTypeSHA256
}

type ArtifactID struct {
	ResourceID
}

func NewArtifactID() ArtifactID {
	return ArtifactID{ResourceID: NewResourceID(ArtifactResourceKind)}
}

// Artifact is a single file produced by a job and saved to the artifact store.
type Artifact struct {
	ID ArtifactID `json:"id"`
	// HashType is the type of hashing algorithm used to hash the data.
	HashType HashType `json:"hash_type"`
	// Hash is the hex-encoded hash of the artifact data.
	Hash string `json:"hash"`
	// Size of the artifact file in bytes.
	Size uint64 `json:"size"`
	// Mime type of the artifact, or empty if not known.
	Mime string `json:"mime"`
	ArtifactData
}

type ArtifactData struct {
	// Name is the unique name of the artifact within its group, derived from its path.
	Name ResourceName `json:"name"`
	// JobName is the name of the job instance that produced the artifact.
	JobName ResourceName `json:"job_name"`
	// BuildID identifies the build the artifact belongs to.
	BuildID BuildID `json:"build_id"`
	// GroupName is the name associated with one or more artifacts identified by
	// an ArtifactDefinition in the pipeline config.
	GroupName ResourceName `json:"group_name"`
	// Path is the filesystem path the artifact was found at, relative to the job workspace.
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

func NewArtifactData(now time.Time, name ResourceName, jobName ResourceName, buildID BuildID, groupName ResourceName, path string) *ArtifactData {
	return &ArtifactData{
		Name:      name,
		JobName:   jobName,
		BuildID:   buildID,
		CreatedAt: now,
		GroupName: groupName,
		Path:      path,
	}
}

func (m *Artifact) Validate() error {
	var result *multierror.Error
	if !m.ID.Valid() {
		result = multierror.Append(result, errors.New("error id must be set"))
	}
	if err := m.Name.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := m.JobName.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if !m.BuildID.Valid() {
		result = multierror.Append(result, errors.New("error build id must be set"))
	}
	if err := m.GroupName.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if m.Path == "" {
		result = multierror.Append(result, errors.New("error path must be set"))
	}
	if m.CreatedAt.IsZero() {
		result = multierror.Append(result, errors.New("error created at must be set"))
	}
	return result.ErrorOrNil()
}
