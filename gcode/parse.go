package gcode

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrFileNotFound is returned by ParseFile when the program file does not exist.
	ErrFileNotFound = errors.New("File Does Not Exist.")

	// ErrFileType is returned by ParseFile for files without a .ngc or .txt extension.
	ErrFileType = errors.New("Incorrect File Type.")
)

// Program is an ordered list of recognized lines.
type Program []Line

// Parse reads every recognized line from data.
func Parse(data string) (Program, error) {
	return ReadAll(NewParser(bytes.NewBufferString(data)))
}

// MustParse is like Parse but panics on error.
func MustParse(data string) Program {
	p, err := Parse(data)
	if err != nil {
		panic(err)
	}
	return p
}

// ReadAll collects every line from r until io.EOF.
func ReadAll(r Reader) (Program, error) {
	var prog Program
	for {
		ln, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		prog = append(prog, ln)
	}
	return prog, nil
}

// CleanPath removes quotes that often surround pasted file paths.
func CleanPath(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Replace(name, `"`, "", -1)
	return strings.Replace(name, `'`, "", -1)
}

// CheckFile validates that name exists and has an accepted extension.
func CheckFile(name string) error {
	_, err := os.Stat(name)
	if os.IsNotExist(err) {
		return ErrFileNotFound
	}
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ngc", ".txt":
		return nil
	}
	return ErrFileType
}

// ParseFile validates and parses the program file at name.
func ParseFile(name string) (Program, error) {
	name = CleanPath(name)
	err := CheckFile(name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ReadAll(NewParser(f))
}
