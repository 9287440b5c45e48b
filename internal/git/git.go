// Package git reads the few repository facts triage needs from the local
// checkout.
package git

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// normalizeMSYSPath converts MSYS-style paths (/c/Users/...) to Windows
// paths. On other systems it only applies filepath.FromSlash.
func normalizeMSYSPath(path string) string {
	path = strings.TrimSpace(path)
	if runtime.GOOS == "windows" && len(path) >= 3 && path[0] == '/' {
		if (path[1] >= 'a' && path[1] <= 'z' || path[1] >= 'A' && path[1] <= 'Z') && path[2] == '/' {
			path = strings.ToUpper(string(path[1])) + ":" + path[2:]
		}
	}
	return filepath.FromSlash(path)
}

// GetRepoRoot returns the root directory of the git repository.
func GetRepoRoot(path string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = path

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse --show-toplevel: %w", err)
	}
	return normalizeMSYSPath(string(out)), nil
}

// GetRemoteURL returns the URL for a git remote.
// If remoteName is empty, tries "origin" first, then any other remote.
// Returns empty string if no remotes exist.
func GetRemoteURL(repoPath, remoteName string) string {
	if remoteName == "" {
		if url := getRemoteURLByName(repoPath, "origin"); url != "" {
			return url
		}
		return getAnyRemoteURL(repoPath)
	}
	return getRemoteURLByName(repoPath, remoteName)
}

func getRemoteURLByName(repoPath, name string) string {
	cmd := exec.Command("git", "remote", "get-url", name)
	cmd.Dir = repoPath
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func getAnyRemoteURL(repoPath string) string {
	cmd := exec.Command("git", "remote")
	cmd.Dir = repoPath
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	for _, remote := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if remote == "" {
			continue
		}
		if url := getRemoteURLByName(repoPath, remote); url != "" {
			return url
		}
	}
	return ""
}

// ParseGitHubRepo extracts owner and name from a GitHub remote URL in
// https, ssh or scp-like form. Remotes on other hosts are rejected.
func ParseGitHubRepo(url string) (owner, name string, ok bool) {
	url = strings.TrimSpace(url)
	var path string
	switch {
	case strings.HasPrefix(url, "git@github.com:"):
		path = strings.TrimPrefix(url, "git@github.com:")
	default:
		rest, found := strings.CutPrefix(url, "https://")
		if !found {
			rest, found = strings.CutPrefix(url, "ssh://")
		}
		if !found {
			return "", "", false
		}
		if at := strings.Index(rest, "@"); at >= 0 && at < strings.Index(rest+"/", "/") {
			rest = rest[at+1:]
		}
		host, p, found := strings.Cut(rest, "/")
		if !found || (host != "github.com" && host != "www.github.com") {
			return "", "", false
		}
		path = p
	}

	path = strings.TrimSuffix(strings.TrimSuffix(path, "/"), ".git")
	owner, name, found := strings.Cut(path, "/")
	if !found || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", false
	}
	return owner, name, true
}

// DetectGitHubRepo returns "owner/name" for the repository containing
// dir, or "" when dir is not a checkout of a GitHub repository.
func DetectGitHubRepo(dir string) string {
	root, err := GetRepoRoot(dir)
	if err != nil {
		return ""
	}
	owner, name, ok := ParseGitHubRepo(GetRemoteURL(root, ""))
	if !ok {
		return ""
	}
	return owner + "/" + name
}
