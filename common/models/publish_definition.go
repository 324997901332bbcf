package models

import (
	"net/url"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// PublishDefinition declares how distribution artifacts are uploaded to a
// package index once the build succeeds. The upload is gated on the success
// of every job named in Needs.
type PublishDefinition struct {
	// IndexURL is the upload endpoint of the package index.
	IndexURL string `json:"index_url"`
	// ArtifactGroup names the artifact group containing the distribution files to upload.
	ArtifactGroup ResourceName `json:"artifact_group"`
	// TokenSecret is the name of the secret holding the index API token.
	TokenSecret string `json:"token_secret"`
	// Needs lists the job template names that must succeed before publishing.
	// Empty means every job in the pipeline must succeed.
	Needs []ResourceName `json:"needs"`
}

func (m *PublishDefinition) Validate() error {
	var result *multierror.Error
	if m.IndexURL == "" {
		result = multierror.Append(result, errors.New("error index url must be set"))
	} else {
		u, err := url.Parse(m.IndexURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			result = multierror.Append(result, errors.Errorf("error index url %q must be an absolute URL", m.IndexURL))
		}
	}
	if err := m.ArtifactGroup.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if m.TokenSecret == "" {
		result = multierror.Append(result, errors.New("error token secret name must be set"))
	}
	for _, name := range m.Needs {
		if err := name.Validate(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
