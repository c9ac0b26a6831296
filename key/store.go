package key

import (
	"fmt"
	"os"
	"path"

	"github.com/BurntSushi/toml"

	"github.com/ideal-lab5/etf-cli/internal/fs"
)

// Tomler represents any struct that can be (un)marshalled into/from toml format
type Tomler interface {
	TOML() interface{}
	FromTOML(i interface{}) error
	TOMLValue() interface{}
}

// Store abstracts the loading and saving of the authority key material.
type Store interface {
	SaveAuthority(a *Authority) error
	LoadAuthority() (*Authority, error)
	LoadPublic() (*MasterPublic, error)
}

const (
	// DefaultFolder is the folder, under the user's home, holding key material.
	DefaultFolder = ".etf"
	// KeyFolderName is the key sub folder of the base folder.
	KeyFolderName = "key"

	authorityFileName = "authority.private"
	publicFileName    = "authority.public"
)

// DefaultBaseFolder returns $HOME/.etf
func DefaultBaseFolder() string {
	return path.Join(fs.HomeFolder(), DefaultFolder)
}

type fileStore struct {
	baseFolder    string
	authorityFile string
	publicFile    string
}

// NewFileStore returns a Store keeping the authority under baseFolder/key,
// the secret in a user-only file.
func NewFileStore(baseFolder string) (Store, error) {
	keyFolder, err := fs.CreateSecureFolder(path.Join(baseFolder, KeyFolderName))
	if err != nil {
		return nil, err
	}
	return &fileStore{
		baseFolder:    baseFolder,
		authorityFile: path.Join(keyFolder, authorityFileName),
		publicFile:    path.Join(keyFolder, publicFileName),
	}, nil
}

// SaveAuthority saves the master secret in a secure file and the public key
// next to it.
func (f *fileStore) SaveAuthority(a *Authority) error {
	if err := Save(f.authorityFile, a, true); err != nil {
		return err
	}
	return Save(f.publicFile, a.Public, false)
}

// LoadAuthority loads the master secret and checks it against the stored
// public key when there is one.
func (f *fileStore) LoadAuthority() (*Authority, error) {
	a := new(Authority)
	if err := Load(f.authorityFile, a); err != nil {
		return nil, err
	}
	if ok, _ := fs.Exists(f.publicFile); !ok {
		return a, nil
	}
	pub, err := f.LoadPublic()
	if err != nil {
		return nil, err
	}
	if !pub.Equal(a.Public) {
		return nil, fmt.Errorf("%w: %s does not match %s", ErrInvalidKeyScheme, f.publicFile, f.authorityFile)
	}
	return a, nil
}

func (f *fileStore) LoadPublic() (*MasterPublic, error) {
	p := new(MasterPublic)
	return p, Load(f.publicFile, p)
}

// Save writes t's TOML form to filePath, with owner only permissions when
// secure is set.
func Save(filePath string, t Tomler, secure bool) error {
	var fd *os.File
	var err error
	if secure {
		fd, err = fs.CreateSecureFile(filePath)
	} else {
		fd, err = os.Create(filePath)
	}
	if err != nil {
		return fmt.Errorf("config: can't save %T to %s: %w", t, filePath, err)
	}
	defer fd.Close()
	return toml.NewEncoder(fd).Encode(t.TOML())
}

// Load decodes the TOML file at filePath into t.
func Load(filePath string, t Tomler) error {
	tomlValue := t.TOMLValue()
	if _, err := toml.DecodeFile(filePath, tomlValue); err != nil {
		return err
	}
	return t.FromTOML(tomlValue)
}
