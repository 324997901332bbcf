package engine

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/conveyorci/conveyor/common/models"
)

// fingerprintHasher accumulates the inputs to a job's fingerprint.
// It implements io.Writer so command stdout can be streamed into it.
type fingerprintHasher struct {
	hash hash.Hash
}

func newFingerprintHasher() *fingerprintHasher {
	return &fingerprintHasher{hash: sha1.New()}
}

// Prepare marks the start of a new section of hash input, so that identical
// bytes in different sections produce different fingerprints.
func (h *fingerprintHasher) Prepare(label string) {
	h.hash.Write([]byte("\x00" + label + "\x00"))
}

// Append hashes a labelled value as its own section.
func (h *fingerprintHasher) Append(label string, value string) {
	h.Prepare(label)
	h.hash.Write([]byte(value))
}

func (h *fingerprintHasher) Write(p []byte) (int, error) {
	return h.hash.Write(p)
}

func (h *fingerprintHasher) Finalize() string {
	return hex.EncodeToString(h.hash.Sum(nil))
}

// hashJobDefinition produces a stable hash of a job's definition data, so
// that a change to the job's configuration changes its fingerprint.
func hashJobDefinition(job *models.Job) (string, error) {
	sum, err := hashstructure.Hash(job.JobDefinitionData, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("error hashing job definition: %w", err)
	}
	return fmt.Sprintf("%016x", sum), nil
}
