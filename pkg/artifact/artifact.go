package artifact

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/errdefs"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/log"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/types"
)

// Store persists build artifacts on the local filesystem under
// <root>/<buildID>/<category>/<name>. Writes are atomic: content goes to
// a temp file in the target directory and is renamed into place.
type Store struct {
	root string
}

// NewStore creates the artifact root directory if needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root: %w", err)
	}
	return &Store{root: root}, nil
}

// CategoryFor routes an artifact name to its category by extension.
// Structured outputs land in specs, prose in docs, everything else is
// generated code.
func CategoryFor(name string) types.ArtifactCategory {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return types.CategorySpecs
	case ".md", ".txt":
		return types.CategoryDocs
	default:
		return types.CategoryCode
	}
}

func (s *Store) path(cat types.ArtifactCategory, buildID, name string) (string, error) {
	clean := filepath.Clean(name)
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", errdefs.Newf(errdefs.KindValidation, "invalid artifact name %q", name)
	}
	return filepath.Join(s.root, buildID, string(cat), clean), nil
}

// Put writes one artifact, routing its category by extension.
func (s *Store) Put(buildID, name string, data []byte) (types.ArtifactRef, error) {
	return s.PutIn(CategoryFor(name), buildID, name, data)
}

// PutIn writes one artifact into an explicit category. Code stages use
// this so generated files like package.json stay under code/.
func (s *Store) PutIn(cat types.ArtifactCategory, buildID, name string, data []byte) (types.ArtifactRef, error) {
	path, err := s.path(cat, buildID, name)
	if err != nil {
		return types.ArtifactRef{}, err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.ArtifactRef{}, writeErr(name, err)
	}

	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return types.ArtifactRef{}, writeErr(name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return types.ArtifactRef{}, writeErr(name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return types.ArtifactRef{}, writeErr(name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return types.ArtifactRef{}, writeErr(name, err)
	}

	logger := log.WithComponent("artifact")
	logger.Debug().Str("build_id", buildID).Str("name", name).Int("size", len(data)).Msg("Artifact written")

	return types.ArtifactRef{
		Category:  cat,
		Name:      filepath.ToSlash(filepath.Clean(name)),
		Size:      int64(len(data)),
		WrittenAt: time.Now().UTC(),
	}, nil
}

// PutJSON marshals v with sorted keys and two-space indentation and
// writes it via Put.
func (s *Store) PutJSON(buildID, name string, v interface{}) (types.ArtifactRef, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return types.ArtifactRef{}, errdefs.Wrap(errdefs.KindInternal, "failed to encode artifact", err)
	}
	return s.Put(buildID, name, data)
}

// Get reads one artifact, routing its category by extension. A missing
// artifact is reported as MissingInputArtifact so stage preflight can
// fail without retrying.
func (s *Store) Get(buildID, name string) ([]byte, error) {
	return s.GetFrom(CategoryFor(name), buildID, name)
}

// GetFrom reads one artifact from an explicit category.
func (s *Store) GetFrom(cat types.ArtifactCategory, buildID, name string) ([]byte, error) {
	path, err := s.path(cat, buildID, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.Newf(errdefs.KindMissingInputArtifact, "artifact %s not found for build %s", name, buildID)
		}
		return nil, errdefs.Wrap(errdefs.KindInternal, "failed to read artifact", err)
	}
	return data, nil
}

// GetJSON reads one artifact and unmarshals it into v.
func (s *Store) GetJSON(buildID, name string, v interface{}) error {
	data, err := s.Get(buildID, name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errdefs.Wrap(errdefs.KindInternal, fmt.Sprintf("artifact %s is not valid JSON", name), err)
	}
	return nil
}

// Exists reports whether the named artifact has been written.
func (s *Store) Exists(buildID, name string) bool {
	return s.ExistsIn(CategoryFor(name), buildID, name)
}

// ExistsIn reports whether the artifact exists in an explicit category.
func (s *Store) ExistsIn(cat types.ArtifactCategory, buildID, name string) bool {
	path, err := s.path(cat, buildID, name)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// List walks a build's artifact tree and returns every reference sorted
// by path.
func (s *Store) List(buildID string) ([]types.ArtifactRef, error) {
	base := filepath.Join(s.root, buildID)
	var refs []types.ArtifactRef

	for _, cat := range []types.ArtifactCategory{types.CategorySpecs, types.CategoryDocs, types.CategoryCode} {
		catDir := filepath.Join(base, string(cat))
		err := filepath.WalkDir(catDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(catDir, path)
			if err != nil {
				return err
			}
			refs = append(refs, types.ArtifactRef{
				Category:  cat,
				Name:      filepath.ToSlash(rel),
				Size:      info.Size(),
				WrittenAt: info.ModTime().UTC(),
			})
			return nil
		})
		if err != nil {
			return nil, errdefs.Wrap(errdefs.KindInternal, "failed to list artifacts", err)
		}
	}
	return refs, nil
}

// Purge removes every artifact of a build.
func (s *Store) Purge(buildID string) error {
	if buildID == "" {
		return errdefs.New(errdefs.KindValidation, "build id is required")
	}
	return os.RemoveAll(filepath.Join(s.root, buildID))
}

// BuildDir returns the on-disk directory of a build's artifacts.
func (s *Store) BuildDir(buildID string) string {
	return filepath.Join(s.root, buildID)
}

func writeErr(name string, err error) *errdefs.Error {
	e := errdefs.Wrap(errdefs.KindArtifactWriteError, fmt.Sprintf("failed to write artifact %s", name), err)
	// Filesystem write failures are usually transient (contention, slow
	// disk); permission errors are not.
	e.Retryable = !os.IsPermission(err)
	return e
}
