package extract

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ZipFile extracts a zip file to the given destination path.
func ZipFile(reader io.ReaderAt, destPath string, size int64) error {
	err := os.MkdirAll(destPath, 0755)
	if err != nil {
		return fmt.Errorf("error creating destination directory: %w", err)
	}

	zipReader, err := zip.NewReader(reader, size)
	if err != nil {
		return fmt.Errorf("error creating zip reader: %w", err)
	}

	for _, file := range zipReader.File {
		err := handleFileFromZip(file, destPath)
		if err != nil {
			return fmt.Errorf("error extracting file: %w", err)
		}
	}
	return nil
}

func handleFileFromZip(file *zip.File, destPath string) error {
	if file.Name == "" {
		return ErrEmptyHeaderName
	}
	target, err := guardAgainstZipSlipZip(file.Name, destPath)
	if err != nil {
		return err
	}

	switch {
	case file.FileInfo().IsDir():
		return extractZipDir(file, target)
	case file.FileInfo().Mode().IsRegular():
		return extractZipFile(file, target)
	default:
		return fmt.Errorf("unsupported file type (not dir or regular): %s (%d)", file.Name, file.FileInfo().Mode().Type())
	}
}

func extractZipDir(file *zip.File, target string) error {
	err := os.MkdirAll(target, file.Mode().Perm())
	if err != nil {
		return fmt.Errorf("error creating directory: %w", err)
	}
	return applyPermissions(target, file.Mode().Perm())
}

func extractZipFile(file *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("error creating directory: %w", err)
	}

	zipFile, err := file.Open()
	if err != nil {
		return fmt.Errorf("error opening file: %w", err)
	}
	defer zipFile.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, file.Mode())
	if err != nil {
		return fmt.Errorf("error creating file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, zipFile); err != nil {
		return fmt.Errorf("error copying file: %w", err)
	}
	return applyPermissions(target, file.Mode().Perm())
}

func applyPermissions(filepath string, fileMode fs.FileMode) error {
	// Do not apply setuid/gid/sticky bits.
	perms := fileMode &^ os.ModeSetuid &^ os.ModeSetgid &^ os.ModeSticky
	return os.Chmod(filepath, perms)
}

// guardAgainstZipSlipZip joins name onto destDir and rejects the result if
// it escapes destDir, the same check TarFile applies to tar headers.
func guardAgainstZipSlipZip(name, destDir string) (string, error) {
	target, err := filepath.Abs(filepath.Join(destDir, name))
	if err != nil {
		return "", fmt.Errorf("error getting absolute path of %s: %w", name, err)
	}
	destAbs, err := filepath.Abs(destDir)
	if err != nil {
		return "", fmt.Errorf("error getting absolute path of %s: %w", destDir, err)
	}
	if !strings.HasPrefix(target, destAbs) {
		return "", fmt.Errorf("%w: `%s` outside of `%s`", ErrZipSlip, target, destAbs)
	}
	return target, nil
}
