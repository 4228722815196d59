package preset

import (
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/src-d/go-billy.v4"
	"gopkg.in/src-d/go-billy.v4/util"

	"go.viam.com/motorctl/logging"
)

// DefaultDir is the directory presets are kept in.
const DefaultDir = "/presets"

const fileExt = ".json"

// Store keeps presets as <dir>/<name>.json on a billy filesystem.
type Store struct {
	fs     billy.Filesystem
	dir    string
	logger logging.Logger
}

// NewStore returns a store under dir, creating it if needed.
func NewStore(fs billy.Filesystem, dir string, logger logging.Logger) (*Store, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "cannot create preset directory %q", dir)
	}
	return &Store{fs: fs, dir: dir, logger: logger}, nil
}

func (s *Store) path(name string) string {
	return path.Join(s.dir, name+fileExt)
}

// Save writes p under its name, replacing any preset of that name.
func (s *Store) Save(p Preset) error {
	if err := ValidateName(p.Name); err != nil {
		return err
	}
	p.Truncate()
	data, err := Encode(p)
	if err != nil {
		return err
	}
	if err := util.WriteFile(s.fs, s.path(p.Name), data, 0o644); err != nil {
		return errors.Wrapf(err, "cannot write preset %q", p.Name)
	}
	s.logger.Infow("preset saved", "name", p.Name, "steps", len(p.Steps), "bytes", len(data))
	return nil
}

// Load reads the preset called name.
func (s *Store) Load(name string) (Preset, error) {
	if err := ValidateName(name); err != nil {
		return Preset{}, err
	}
	f, err := s.fs.Open(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return Preset{}, errors.Wrapf(ErrNotFound, "%q", name)
		}
		return Preset{}, errors.Wrapf(err, "cannot open preset %q", name)
	}
	defer func() {
		//nolint:errcheck
		f.Close()
	}()
	data, err := io.ReadAll(f)
	if err != nil {
		return Preset{}, errors.Wrapf(err, "cannot read preset %q", name)
	}
	p, err := Decode(data, name)
	if err != nil {
		return Preset{}, errors.Wrapf(err, "preset %q", name)
	}
	return p, nil
}

// Delete removes the preset called name.
func (s *Store) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := s.fs.Remove(s.path(name)); err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(ErrNotFound, "%q", name)
		}
		return errors.Wrapf(err, "cannot delete preset %q", name)
	}
	s.logger.Infow("preset deleted", "name", name)
	return nil
}

// List returns the stored preset names in order.
func (s *Store) List() ([]string, error) {
	infos, err := s.fs.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "cannot list presets")
	}
	var names []string
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), fileExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(info.Name(), fileExt))
	}
	sort.Strings(names)
	return names, nil
}

// Count returns the number of stored presets.
func (s *Store) Count() (int, error) {
	names, err := s.List()
	return len(names), err
}

// Exists reports whether a preset called name is stored.
func (s *Store) Exists(name string) bool {
	if ValidateName(name) != nil {
		return false
	}
	_, err := s.fs.Stat(s.path(name))
	return err == nil
}
