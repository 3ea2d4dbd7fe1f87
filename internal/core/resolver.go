package core

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ClassFileExtension is the suffix of compiled class files.
const ClassFileExtension = ".class"

// ClassFile is a compiled class discovered under a class directory.
type ClassFile struct {
	// Class is the fully-qualified class name derived from the path relative
	// to the class directory ("com/example/Foo.class" -> "com.example.Foo").
	Class ClassName

	// Path is the absolute path of the class file.
	Path string
}

// ClassResolver discovers compiled classes under a set of class directories.
//
// Discovery is deterministic:
//   - Directory walk order is never relied upon; results are sorted by class name.
//   - When the same class name appears in several directories, the first
//     directory in the configured order wins.
//   - Class directories that do not exist contribute nothing (a project
//     without test sources has no test class directory).
type ClassResolver struct {
	// BaseDir is the project directory used to resolve relative class dirs.
	BaseDir string
}

// NewClassResolver creates a ClassResolver with the given base directory.
func NewClassResolver(baseDir string) *ClassResolver {
	return &ClassResolver{BaseDir: baseDir}
}

// Resolve walks every class directory and returns the class files found,
// sorted by class name.
func (r *ClassResolver) Resolve(classDirs []string) ([]ClassFile, error) {
	byName := make(map[ClassName]string)

	for _, dir := range classDirs {
		root := dir
		if !filepath.IsAbs(root) {
			root = filepath.Join(r.BaseDir, root)
		}

		info, err := os.Stat(root)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("stat class dir %q: %w", dir, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("class dir %q is not a directory", dir)
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || !strings.HasSuffix(d.Name(), ClassFileExtension) {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			name := ClassNameFromPath(rel)
			if _, seen := byName[name]; !seen {
				byName[name] = path
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking class dir %q: %w", dir, err)
		}
	}

	out := make([]ClassFile, 0, len(byName))
	for name, path := range byName {
		out = append(out, ClassFile{Class: name, Path: path})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Class < out[j].Class })
	return out, nil
}

// ClassNameFromPath converts a class file path relative to its class
// directory into a fully-qualified class name.
func ClassNameFromPath(rel string) ClassName {
	rel = filepath.ToSlash(rel)
	rel = strings.TrimSuffix(rel, ClassFileExtension)
	rel = strings.TrimPrefix(rel, "/")
	return ClassName(strings.ReplaceAll(rel, "/", "."))
}

// DiscoverTests selects test classes by matching the simple class name
// against a glob pattern (e.g. "*Test"). Nested classes are never tests.
//
// The result is sorted by class name.
func DiscoverTests(classes []ClassFile, pattern string) ([]ClassName, error) {
	if pattern == "" {
		return nil, nil
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid test pattern %q: %w", pattern, err)
	}

	out := make([]ClassName, 0)
	for _, cf := range classes {
		simple := cf.Class.SimpleName()
		if strings.Contains(simple, "$") {
			continue
		}
		ok, _ := filepath.Match(pattern, simple)
		if ok {
			out = append(out, cf.Class)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
