// Package fs holds the few file system helpers used to keep key material and
// bundles on disk.
package fs

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
)

const (
	secureDirPerm  = 0o740
	secureFilePerm = 0o600
)

// HomeFolder returns the home folder of the current user, or the empty string
// if it cannot be determined.
func HomeFolder() string {
	u, err := user.Current()
	if err != nil {
		return os.Getenv("HOME")
	}
	return u.HomeDir
}

// CreateSecureFolder creates folder with owner only write access if it does
// not exist yet. An existing folder is left untouched.
func CreateSecureFolder(folder string) (string, error) {
	exists, err := Exists(folder)
	if err != nil {
		return "", err
	}
	if !exists {
		if err := os.MkdirAll(folder, secureDirPerm); err != nil {
			return "", fmt.Errorf("creating folder %s: %w", folder, err)
		}
		return folder, nil
	}
	info, err := os.Lstat(folder)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a folder", folder)
	}
	return folder, nil
}

// Exists returns whether the given file or directory exists.
func Exists(filePath string) (bool, error) {
	_, err := os.Stat(filePath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return true, err
}

// CreateSecureFile creates (or truncates) a file readable and writable by the
// user only and returns the open handle.
func CreateSecureFile(file string) (*os.File, error) {
	fd, err := os.OpenFile(file, os.O_RDWR|os.O_CREATE|os.O_TRUNC, secureFilePerm)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(file, secureFilePerm); err != nil {
		fd.Close()
		return nil, err
	}
	return fd, nil
}

// WriteSecureFile writes data to a file created with CreateSecureFile.
func WriteSecureFile(file string, data []byte) error {
	fd, err := CreateSecureFile(file)
	if err != nil {
		return err
	}
	if _, err := fd.Write(data); err != nil {
		fd.Close()
		return err
	}
	return fd.Close()
}

// Files returns the regular files directly under folderPath.
func Files(folderPath string) ([]string, error) {
	entries, err := os.ReadDir(folderPath)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, filepath.Join(folderPath, e.Name()))
		}
	}
	return files, nil
}
