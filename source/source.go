// Package source parses the URL-path identity of a documentation artifact
// — "<host>/<org>/<repo>[@<version>]/<module>/<file>" — the way
// giturl.Parse turns a raw remote URL into a structured value in the
// teacher repository, but against the HTTP path grammar spec.md §3
// defines rather than git's remote-URL schemes.
package source

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultVersion is the sentinel version naming the most recently
// resolved release of a repository.
const DefaultVersion = "latest"

// DefaultFile is served when a request names a module but no file.
const DefaultFile = "index.html"

var (
	// ErrInvalidPath is returned when the path does not match the
	// "host/org/repo[@version][/module[/file]]" grammar, or contains "..".
	ErrInvalidPath = errors.New("the repository path provided is invalid")

	// ErrUnsupportedHost is returned when the host segment names a host
	// this service does not know how to clone from.
	ErrUnsupportedHost = errors.New("the host of the remote repository is not supported")
)

// supportedHosts is data, not a type switch, so growing the set of hosts
// this service clones from never touches the parser itself.
var supportedHosts = map[string]bool{
	"github.com": true,
	"gitlab.com": true,
}

// Source is the addressable identity of a documentation artifact.
type Source struct {
	// Repository is the canonical "host/org/name" triple, no scheme.
	Repository string
	// Version is an opaque ref, or DefaultVersion.
	Version string
	// Module is possibly empty (repository root listing).
	Module string
	// File defaults to DefaultFile.
	File string
}

// Parse validates and decomposes a URL path into a Source. The leading
// slash, if any, is tolerated; path is otherwise expected verbatim from
// an HTTP request's r.URL.Path (or its /subscribe/ suffix, stripped by
// the caller first).
func Parse(path string) (Source, error) {
	path = strings.TrimPrefix(path, "/")

	if strings.Contains(path, "..") {
		return Source{}, ErrInvalidPath
	}

	segments := strings.Split(path, "/")
	// drop trailing empty segments produced by a trailing slash
	for len(segments) > 0 && segments[len(segments)-1] == "" {
		segments = segments[:len(segments)-1]
	}

	if len(segments) < 3 {
		return Source{}, ErrInvalidPath
	}

	host := segments[0]
	org := segments[1]
	repoAndVersion := segments[2]

	if host == "" || org == "" || repoAndVersion == "" {
		return Source{}, ErrInvalidPath
	}

	if !supportedHosts[host] {
		return Source{}, ErrUnsupportedHost
	}

	repo, version, _ := strings.Cut(repoAndVersion, "@")
	if repo == "" {
		return Source{}, ErrInvalidPath
	}
	if version == "" {
		version = DefaultVersion
	}

	var module, file string
	rest := segments[3:]
	switch len(rest) {
	case 0:
		file = DefaultFile
	case 1:
		module = rest[0]
		file = DefaultFile
	default:
		module = rest[0]
		file = strings.Join(rest[1:], "/")
	}

	if module == "" && file == "" {
		file = DefaultFile
	}

	return Source{
		Repository: strings.Join([]string{host, org, repo}, "/"),
		Version:    version,
		Module:     module,
		File:       file,
	}, nil
}

// WithVersion returns a copy of s with Version replaced — the cheap
// re-binding spec.md §3 calls out, used when a SyncLatest job resolves
// "latest" to a concrete tag and constructs the chained SyncRepository
// job's location.
func (s Source) WithVersion(version string) Source {
	s.Version = version
	return s
}

// String renders the canonical form
// "host/org/repo[@version][/module[/file]]", used by log lines and by
// the "queued" page.
func (s Source) String() string {
	var b strings.Builder
	b.WriteString(s.Repository)
	if s.Version != "" && s.Version != DefaultVersion {
		b.WriteByte('@')
		b.WriteString(s.Version)
	}
	if s.Module != "" {
		b.WriteByte('/')
		b.WriteString(s.Module)
		if s.File != "" && s.File != DefaultFile {
			b.WriteByte('/')
			b.WriteString(s.File)
		}
	}
	return b.String()
}

// CloneURL is the HTTPS remote URL git should clone from.
func (s Source) CloneURL() string {
	return fmt.Sprintf("https://%s", s.Repository)
}
