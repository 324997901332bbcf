// Package publish uploads a build's distribution artifacts to a package
// index, gated on the success of the build's upstream jobs.
package publish

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"

	"github.com/conveyorci/conveyor/artifact"
	"github.com/conveyorci/conveyor/common/gerror"
	"github.com/conveyorci/conveyor/common/logger"
	"github.com/conveyorci/conveyor/common/models"
	"github.com/conveyorci/conveyor/secret"
)

// BuildOutcome exposes the job results a publish gate is evaluated against.
type BuildOutcome interface {
	// Succeeded returns true if the build finished successfully.
	Succeeded() bool
	// TemplateSucceeded returns true if every job instance expanded from the
	// named job template succeeded.
	TemplateSucceeded(templateName models.ResourceName) bool
}

// Publisher uploads distribution artifacts from the local artifact store to
// a package index over HTTP.
type Publisher struct {
	client    *retryablehttp.Client
	artifacts *artifact.Manager
	secrets   *secret.Store
	log       logger.Log
}

func NewPublisher(artifacts *artifact.Manager, secrets *secret.Store, logFactory logger.LogFactory) *Publisher {
	log := logFactory("Publisher")
	client := retryablehttp.NewClient()
	client.RetryWaitMin = time.Millisecond * 100
	client.RetryWaitMax = time.Second * 5
	client.RetryMax = 10
	client.Logger = NewLeveledLogger(log) // use adaptor to get log level support
	return &Publisher{
		client:    client,
		artifacts: artifacts,
		secrets:   secrets,
		log:       log,
	}
}

// CheckGate verifies that the jobs the publish block needs have all
// succeeded. An empty needs list requires the whole build to have succeeded.
// Returns a PublishGated error if the gate is closed.
func (p *Publisher) CheckGate(definition *models.PublishDefinition, outcome BuildOutcome) error {
	if len(definition.Needs) == 0 {
		if !outcome.Succeeded() {
			return gerror.NewErrPublishGated("Publish gate is closed: the build did not succeed")
		}
		return nil
	}
	for _, name := range definition.Needs {
		if !outcome.TemplateSucceeded(name) {
			return gerror.NewErrPublishGated(fmt.Sprintf("Publish gate is closed: job %q did not succeed", name))
		}
	}
	return nil
}

// Publish uploads the artifacts in the publish block's artifact group to the
// package index, after checking the gate. Each file is uploaded in its own
// request; an upload the index reports as already existing is skipped.
func (p *Publisher) Publish(
	ctx context.Context,
	definition *models.PublishDefinition,
	build *models.Build,
	jobs []*models.Job,
	outcome BuildOutcome) error {

	err := p.CheckGate(definition, outcome)
	if err != nil {
		return err
	}

	token, err := p.secrets.Get(definition.TokenSecret)
	if err != nil {
		return fmt.Errorf("error resolving index token from secret %q: %w", definition.TokenSecret, err)
	}

	var artifacts []*models.Artifact
	for _, job := range jobs {
		jobArtifacts, err := p.artifacts.Search(build.ID, job.Name, definition.ArtifactGroup)
		if err != nil {
			return errors.Wrap(err, "error searching artifact store")
		}
		artifacts = append(artifacts, jobArtifacts...)
	}
	if len(artifacts) == 0 {
		return gerror.NewErrPublishFailed(
			fmt.Sprintf("No artifacts found in group %q; Nothing to publish", definition.ArtifactGroup),
			http.StatusNotFound, nil)
	}

	p.log.Infof("Publishing %d artifact(s) from group %q to %s", len(artifacts), definition.ArtifactGroup, definition.IndexURL)
	for _, art := range artifacts {
		err := p.uploadArtifact(ctx, definition.IndexURL, token.Value, art)
		if err != nil {
			return err
		}
	}
	return nil
}

// uploadArtifact uploads one file as a multipart form POST, the way package
// index legacy upload endpoints expect.
func (p *Publisher) uploadArtifact(ctx context.Context, indexURL string, token string, art *models.Artifact) error {
	file, err := p.artifacts.Open(art)
	if err != nil {
		return err
	}
	defer file.Close()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	fields := map[string]string{
		":action":          "file_upload",
		"protocol_version": "1",
		"name":             art.Name.String(),
		"sha256_digest":    art.Hash,
	}
	for name, value := range fields {
		err = form.WriteField(name, value)
		if err != nil {
			return errors.Wrap(err, "error writing form field")
		}
	}
	part, err := form.CreateFormFile("content", art.Name.String())
	if err != nil {
		return errors.Wrap(err, "error creating form file")
	}
	_, err = io.Copy(part, file)
	if err != nil {
		return errors.Wrap(err, "error writing artifact data to form")
	}
	err = form.Close()
	if err != nil {
		return errors.Wrap(err, "error finalizing form")
	}

	req, err := retryablehttp.NewRequest("POST", indexURL, body.Bytes())
	if err != nil {
		return errors.Wrap(err, "error making request")
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := p.client.Do(req)
	if err != nil {
		return gerror.NewErrPublishFailed(
			fmt.Sprintf("Failed uploading %q to package index", art.Name), 0, err)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		p.log.Infof("Uploaded %q (%d bytes)", art.Name, art.Size)
		return nil
	case res.StatusCode == http.StatusConflict:
		// The index already has a file with this name and version
		p.log.Warnf("Skipping %q: the package index reports it already exists", art.Name)
		return nil
	default:
		return gerror.NewErrPublishFailed(
			fmt.Sprintf("Package index rejected %q with status %d", art.Name, res.StatusCode),
			res.StatusCode, nil)
	}
}
