package classifier

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

// ErrInvalidUserID is returned for user ids that cannot name an artifact directory.
var ErrInvalidUserID = errors.New("invalid user id")

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// Artifacts locates one user's trained model and label map.
type Artifacts struct {
	UserID     string
	Dir        string
	ModelPath  string
	LabelsPath string
}

// ArtifactStore resolves artifacts under <root>/<userID>/.
type ArtifactStore struct {
	root string
}

// NewArtifactStore creates a store rooted at dir.
func NewArtifactStore(dir string) *ArtifactStore {
	return &ArtifactStore{root: dir}
}

// Root returns the models directory.
func (s *ArtifactStore) Root() string {
	return s.root
}

// ValidateUserID rejects empty ids and ids that would escape the models directory.
func ValidateUserID(userID string) error {
	if !userIDPattern.MatchString(userID) {
		return fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	}
	return nil
}

// Dir returns the artifact directory for userID.
func (s *ArtifactStore) Dir(userID string) string {
	return filepath.Join(s.root, userID)
}

// Resolve finds the model and label files for userID. Exact names are
// preferred: model.json, then <userID>_model.json, then the first file
// matching *model*.json; likewise for labels.
func (s *ArtifactStore) Resolve(userID string) (Artifacts, error) {
	if err := ValidateUserID(userID); err != nil {
		return Artifacts{}, err
	}

	dir := s.Dir(userID)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return Artifacts{}, fmt.Errorf("%w: no directory for user %q", ErrArtifactsNotFound, userID)
	}

	modelPath, err := firstMatch(dir, "model.json", userID+"_model.json", "*model*.json")
	if err != nil {
		return Artifacts{}, fmt.Errorf("%w: model for user %q", ErrArtifactsNotFound, userID)
	}
	labelsPath, err := firstMatch(dir, "labels.json", userID+"_labels.json", "*labels*.json")
	if err != nil {
		return Artifacts{}, fmt.Errorf("%w: labels for user %q", ErrArtifactsNotFound, userID)
	}

	return Artifacts{
		UserID:     userID,
		Dir:        dir,
		ModelPath:  modelPath,
		LabelsPath: labelsPath,
	}, nil
}

// List returns the ids of users with a complete artifact pair, sorted.
func (s *ArtifactStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read models dir: %w", err)
	}

	var users []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := s.Resolve(e.Name()); err == nil {
			users = append(users, e.Name())
		}
	}
	sort.Strings(users)
	return users, nil
}

// Load reads and parses the artifacts.
func (a Artifacts) Load() (Model, LabelMap, error) {
	modelData, err := os.ReadFile(a.ModelPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read model: %w", err)
	}
	model, err := ParseDenseModel(modelData)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", filepath.Base(a.ModelPath), err)
	}

	labelData, err := os.ReadFile(a.LabelsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read labels: %w", err)
	}
	labels, err := ParseLabelMap(labelData)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", filepath.Base(a.LabelsPath), err)
	}

	return model, labels, nil
}

// firstMatch returns the first existing regular file among exact names, then
// the lexically first glob match.
func firstMatch(dir string, patterns ...string) (string, error) {
	for _, p := range patterns {
		if hasMeta(p) {
			matches, err := filepath.Glob(filepath.Join(dir, p))
			if err != nil {
				return "", err
			}
			sort.Strings(matches)
			for _, m := range matches {
				if isFile(m) {
					return m, nil
				}
			}
			continue
		}
		if path := filepath.Join(dir, p); isFile(path) {
			return path, nil
		}
	}
	return "", fs.ErrNotExist
}

func hasMeta(p string) bool {
	for _, c := range p {
		switch c {
		case '*', '?', '[':
			return true
		}
	}
	return false
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
