// Package artifact collects job output files into a local artifact store and
// materializes them into the workspaces of dependent jobs.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v2"
	"github.com/h2non/filetype"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/conveyorci/conveyor/common/gerror"
	"github.com/conveyorci/conveyor/common/logger"
	"github.com/conveyorci/conveyor/common/models"
)

const manifestFileName = ".manifest.json"

// Manager stores artifacts on the local filesystem, laid out as
// <root>/<build-id>/<job-name>/<group-name>/<relative-path> with one
// manifest file per group describing the stored artifacts.
type Manager struct {
	rootDir string
	log     logger.Log
}

func NewManager(rootDir string, logFactory logger.LogFactory) *Manager {
	return &Manager{
		rootDir: rootDir,
		log:     logFactory("ArtifactManager"),
	}
}

// Collect locates all artifacts declared by the job in its workspace, hashes
// them and saves them to the store. Any errors encountered are wrapped in
// ArtifactUploadFailed error codes; collection continues past individual
// failures so all errors are reported together.
func (b *Manager) Collect(job *models.Job, workspaceDir string) ([]*models.Artifact, error) {
	if len(job.ArtifactDefinitions) == 0 {
		return nil, nil
	}
	var (
		results   *multierror.Error
		artifacts []*models.Artifact
	)
	for _, artifactDefinition := range job.ArtifactDefinitions {
		var groupArtifacts []*models.Artifact
		for _, rawPath := range artifactDefinition.Paths {
			absolutePath := filepath.Join(workspaceDir, rawPath)
			paths, err := doublestar.Glob(absolutePath)
			if err != nil {
				results = multierror.Append(results, gerror.NewErrArtifactUploadFailed(fmt.Sprintf("error executing glob %q", rawPath), err))
				continue
			}
			for _, path := range paths {
				artifact, err := b.saveArtifact(job, artifactDefinition.GroupName, workspaceDir, path)
				if err != nil {
					results = multierror.Append(results, gerror.NewErrArtifactUploadFailed("Failed saving artifact", err))
					continue
				}
				if artifact != nil {
					groupArtifacts = append(groupArtifacts, artifact)
				}
			}
		}
		if len(groupArtifacts) > 0 {
			err := b.writeManifest(job, artifactDefinition.GroupName, groupArtifacts)
			if err != nil {
				results = multierror.Append(results, gerror.NewErrArtifactUploadFailed("Failed writing artifact manifest", err))
				continue
			}
			artifacts = append(artifacts, groupArtifacts...)
		}
	}
	return artifacts, results.ErrorOrNil()
}

// Search returns the stored artifacts produced by the named job for the given
// build. An empty groupName matches all groups.
func (b *Manager) Search(buildID models.BuildID, jobName models.ResourceName, groupName models.ResourceName) ([]*models.Artifact, error) {
	jobDir := filepath.Join(b.rootDir, buildID.ShortID(), jobName.String())
	entries, err := os.ReadDir(jobDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "error reading artifact store directory %q", jobDir)
	}
	var artifacts []*models.Artifact
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if groupName != "" && entry.Name() != groupName.String() {
			continue
		}
		groupArtifacts, err := b.readManifest(filepath.Join(jobDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, groupArtifacts...)
	}
	return artifacts, nil
}

// Materialize copies all artifacts the job depends on into its workspace,
// preserving the path each artifact had relative to the producing job's
// workspace. Files already present with matching content are left alone.
func (b *Manager) Materialize(job *models.Job, workspaceDir string) error {
	for _, jobDependency := range job.Depends {
		for _, dependency := range jobDependency.ArtifactDependencies {
			artifacts, err := b.Search(job.BuildID, dependency.JobName, dependency.GroupName)
			if err != nil {
				return errors.Wrap(err, "error searching artifacts")
			}
			for _, artifact := range artifacts {
				err := b.materializeArtifact(artifact, workspaceDir)
				if err != nil {
					return errors.Wrapf(err, "error materializing artifact %q", artifact.Path)
				}
			}
		}
	}
	return nil
}

func (b *Manager) materializeArtifact(artifact *models.Artifact, workspaceDir string) error {
	destPath := filepath.Join(workspaceDir, artifact.Path)
	exists, err := b.checkAndVerifyArtifact(artifact, destPath)
	if err != nil {
		return err
	}
	if exists {
		b.log.Tracef("Artifact already exists in workspace: %s", artifact.Path)
		return nil
	}
	b.log.Debugf("Materializing artifact (%d bytes) to: %s", artifact.Size, artifact.Path)
	srcPath := b.dataPath(artifact)
	src, err := os.Open(srcPath)
	if err != nil {
		return errors.Wrap(err, "error opening stored artifact")
	}
	defer src.Close()
	err = os.MkdirAll(filepath.Dir(destPath), 0777)
	if err != nil {
		return fmt.Errorf("error creating artifact directory: %w", err)
	}
	dest, err := os.Create(destPath)
	if err != nil {
		return errors.Wrap(err, "error opening artifact file for writing")
	}
	defer dest.Close()
	_, err = io.Copy(dest, src)
	if err != nil {
		return errors.Wrap(err, "error writing artifact file")
	}
	return nil
}

// checkAndVerifyArtifact verifies that if a file exists at the given path it
// is the same file that was saved as an artifact. Returns true if a matching
// file exists or an error if a mismatched file exists.
func (b *Manager) checkAndVerifyArtifact(artifact *models.Artifact, path string) (bool, error) {
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("error stating artifact: %w", err)
	}
	if uint64(stat.Size()) != artifact.Size {
		return false, errors.New("error artifact size mismatch")
	}
	hash, _, err := hashFile(path)
	if err != nil {
		return false, err
	}
	if artifact.Hash != hash {
		return false, errors.New("error artifact hash mismatch")
	}
	return true, nil
}

// saveArtifact saves a single file to the store. Directories matched by a
// glob are skipped.
func (b *Manager) saveArtifact(job *models.Job, groupName models.ResourceName, workspaceDir string, absolutePath string) (*models.Artifact, error) {
	stat, err := os.Stat(absolutePath)
	if err != nil {
		return nil, errors.Wrapf(err, "error stating artifact file at path %s", absolutePath)
	}
	if stat.IsDir() {
		return nil, nil
	}
	relativePath, err := filepath.Rel(workspaceDir, absolutePath)
	if err != nil {
		return nil, errors.Wrap(err, "error making relative path")
	}
	hash, mime, err := hashFile(absolutePath)
	if err != nil {
		return nil, err
	}
	artifact := &models.Artifact{
		ID:       models.NewArtifactID(),
		HashType: models.HashTypeSHA256,
		Hash:     hash,
		Size:     uint64(stat.Size()),
		Mime:     mime,
		ArtifactData: *models.NewArtifactData(
			time.Now(),
			models.NormalizeResourceName(filepath.Base(relativePath)),
			job.Name,
			job.BuildID,
			groupName,
			filepath.ToSlash(relativePath)),
	}
	destPath := b.dataPath(artifact)
	err = os.MkdirAll(filepath.Dir(destPath), 0777)
	if err != nil {
		return nil, fmt.Errorf("error creating artifact store directory: %w", err)
	}
	src, err := os.Open(absolutePath)
	if err != nil {
		return nil, errors.Wrap(err, "error opening artifact file for reading")
	}
	defer src.Close()
	dest, err := os.Create(destPath)
	if err != nil {
		return nil, errors.Wrap(err, "error creating artifact store file")
	}
	defer dest.Close()
	_, err = io.Copy(dest, src)
	if err != nil {
		return nil, errors.Wrap(err, "error copying artifact data")
	}
	b.log.Debugf("Saved artifact %s (%d bytes) from path %s", groupName, stat.Size(), relativePath)
	return artifact, nil
}

// Open returns a reader over the stored data of an artifact.
// The caller is responsible for closing the reader.
func (b *Manager) Open(artifact *models.Artifact) (io.ReadCloser, error) {
	file, err := os.Open(b.dataPath(artifact))
	if err != nil {
		return nil, errors.Wrapf(err, "error opening stored artifact %q", artifact.Path)
	}
	return file, nil
}

func (b *Manager) dataPath(artifact *models.Artifact) string {
	return filepath.Join(
		b.rootDir,
		artifact.BuildID.ShortID(),
		artifact.JobName.String(),
		artifact.GroupName.String(),
		filepath.FromSlash(artifact.Path))
}

func (b *Manager) writeManifest(job *models.Job, groupName models.ResourceName, artifacts []*models.Artifact) error {
	path := filepath.Join(b.rootDir, job.BuildID.ShortID(), job.Name.String(), groupName.String(), manifestFileName)
	data, err := json.MarshalIndent(artifacts, "", "  ")
	if err != nil {
		return errors.Wrap(err, "error marshalling artifact manifest")
	}
	err = os.WriteFile(path, data, 0666)
	if err != nil {
		return errors.Wrap(err, "error writing artifact manifest")
	}
	return nil
}

func (b *Manager) readManifest(groupDir string) ([]*models.Artifact, error) {
	data, err := os.ReadFile(filepath.Join(groupDir, manifestFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "error reading artifact manifest in %q", groupDir)
	}
	var artifacts []*models.Artifact
	err = json.Unmarshal(data, &artifacts)
	if err != nil {
		return nil, errors.Wrapf(err, "error unmarshalling artifact manifest in %q", groupDir)
	}
	return artifacts, nil
}

// hashFile returns the hex-encoded sha256 hash and the detected mime type of
// the file at the given path.
func hashFile(path string) (string, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", "", errors.Wrap(err, "error opening file for hashing")
	}
	defer file.Close()
	head := make([]byte, 261)
	n, err := file.Read(head)
	if err != nil && err != io.EOF {
		return "", "", errors.Wrap(err, "error reading file")
	}
	mime := ""
	if kind, err := filetype.Match(head[:n]); err == nil && kind != filetype.Unknown {
		mime = kind.MIME.Value
	}
	_, err = file.Seek(0, io.SeekStart)
	if err != nil {
		return "", "", errors.Wrap(err, "error seeking file")
	}
	hash := sha256.New()
	_, err = io.Copy(hash, file)
	if err != nil {
		return "", "", errors.Wrap(err, "error hashing file")
	}
	return hex.EncodeToString(hash.Sum(nil)), mime, nil
}
