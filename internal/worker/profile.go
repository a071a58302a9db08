package worker

import (
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/forgerunner/forgerunner/internal/process"
)

// Name identifies the worker in logs and launch errors.
const Name = "worker"

// Config describes where the server lives and how it is launched.
type Config struct {
	// Dir is the server directory and the worker's working directory.
	Dir string

	// Java is an explicit java binary; skips discovery when set.
	Java string

	// JavaSearchDir is searched (relative to Dir unless absolute) for a
	// bundled runtime.
	JavaSearchDir string

	// Jar is an explicit server jar; skips discovery when set.
	Jar string

	// JarPattern is a filepath.Match pattern for the server jar.
	JarPattern string

	// JVMFlags are placed between the heap flags and -jar.
	JVMFlags []string

	// ServerArgs follow the jar.
	ServerArgs []string
}

// DefaultConfig returns the launch template of a Forge 1.16 server.
func DefaultConfig() Config {
	return Config{
		Dir:           ".",
		JavaSearchDir: "Java",
		JarPattern:    "forge-*.jar",
		JVMFlags: []string{
			"-XX:+UnlockExperimentalVMOptions",
			"-XX:+AlwaysPreTouch",
			"-XX:NewSize=1G",
			"-XX:MaxNewSize=2G",
			"-XX:SurvivorRatio=2",
			"-XX:+DisableExplicitGC",
		},
		ServerArgs: []string{"nogui"},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("server directory is required")
	}
	if c.Jar == "" && c.JarPattern == "" {
		return fmt.Errorf("jar or jar_pattern is required")
	}
	if c.JarPattern != "" {
		if _, err := filepath.Match(c.JarPattern, ""); err != nil {
			return fmt.Errorf("invalid jar_pattern %q: %w", c.JarPattern, err)
		}
	}
	for _, f := range c.JVMFlags {
		if !strings.HasPrefix(f, "-") {
			return fmt.Errorf("jvm flag %q must start with '-'", f)
		}
		if strings.HasPrefix(f, "-Xmx") || strings.HasPrefix(f, "-Xms") {
			return fmt.Errorf("jvm flag %q conflicts with the heap settings", f)
		}
	}
	return nil
}

// Profile is a resolved launch: concrete java and jar paths.
type Profile struct {
	Java       string
	Jar        string
	Dir        string
	JVMFlags   []string
	ServerArgs []string
}

// Resolve locates java and the server jar. Failures are returned as
// *process.LaunchError so callers treat them like a refused spawn.
func Resolve(c Config) (Profile, error) {
	java, err := findJava(c)
	if err != nil {
		return Profile{}, &process.LaunchError{Name: Name, Binary: "java", Err: err}
	}
	jar, err := findJar(c)
	if err != nil {
		return Profile{}, &process.LaunchError{Name: Name, Binary: java, Err: err}
	}
	return Profile{
		Java:       java,
		Jar:        jar,
		Dir:        c.Dir,
		JVMFlags:   append([]string(nil), c.JVMFlags...),
		ServerArgs: append([]string(nil), c.ServerArgs...),
	}, nil
}

// BuildArgs constructs the java command line for the given heap sizes.
func (p Profile) BuildArgs(maxHeap, minHeap string) []string {
	args := make([]string, 0, len(p.JVMFlags)+len(p.ServerArgs)+4)
	args = append(args, "-Xmx"+maxHeap, "-Xms"+minHeap)
	args = append(args, p.JVMFlags...)
	args = append(args, "-jar", p.Jar)
	args = append(args, p.ServerArgs...)
	return args
}

var heapPattern = regexp.MustCompile(`^[1-9][0-9]*[kKmMgGtT]?$`)

// ValidateHeap checks a size string such as "2G" or "512M".
func ValidateHeap(size string) error {
	if !heapPattern.MatchString(size) {
		return fmt.Errorf("%w: %q", ErrInvalidHeap, size)
	}
	return nil
}

func (c Config) abs(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Dir, path)
}

// findJava prefers an explicit binary, then a bundled runtime, then PATH.
func findJava(c Config) (string, error) {
	if c.Java != "" {
		path, err := exec.LookPath(c.Java)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrJavaNotFound, err)
		}
		return path, nil
	}

	if c.JavaSearchDir != "" {
		if path, ok := searchTree(c.abs(c.JavaSearchDir), isJavaBinary); ok {
			return path, nil
		}
	}

	path, err := exec.LookPath("java")
	if err != nil {
		return "", fmt.Errorf("%w: not in %s or PATH", ErrJavaNotFound, c.JavaSearchDir)
	}
	return path, nil
}

func findJar(c Config) (string, error) {
	if c.Jar != "" {
		path := c.abs(c.Jar)
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%w: %v", ErrJarNotFound, err)
		}
		return path, nil
	}

	match := func(path string, d fs.DirEntry) bool {
		ok, _ := filepath.Match(c.JarPattern, d.Name()) //nolint:errcheck // pattern checked by Validate
		return ok
	}
	if path, ok := searchTree(c.Dir, match); ok {
		return path, nil
	}
	return "", fmt.Errorf("%w: no %s under %s", ErrJarNotFound, c.JarPattern, c.Dir)
}

func isJavaBinary(path string, d fs.DirEntry) bool {
	if d.Name() != "java" && d.Name() != "java.exe" {
		return false
	}
	info, err := d.Info()
	return err == nil && info.Mode()&0o111 != 0
}

// searchTree walks root in lexical order and returns the first regular
// file accepted by match. Unreadable subdirectories are skipped.
func searchTree(root string, match func(string, fs.DirEntry) bool) (string, bool) {
	var found string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error { //nolint:errcheck // errors skip entries
		if err != nil {
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && match(path, d) {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	return found, found != ""
}
