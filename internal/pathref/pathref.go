// Package pathref classifies backup source and destination strings.
//
// A path is remote when it has the form "user@host:path" (rsync over ssh)
// or "user@host::path" (rsync daemon). Everything else is a local path.
// The remote form is split into its user@host part and the path part so
// callers can address the host (ping, ssh) and the path independently.
package pathref

import "regexp"

var remotePat = regexp.MustCompile(`^(.*@.*?):{1,2}(.*)$`)

// Ref is a parsed source or destination path.
type Ref struct {
	// Raw is the string exactly as configured.
	Raw string
	// UserHost is the "user@host" part of a remote path, empty for local.
	UserHost string
	// Path is the path component: for a remote ref the part after the
	// colon(s), for a local ref the same as Raw.
	Path string
}

// Parse classifies raw as local or remote.
func Parse(raw string) Ref {
	if m := remotePat.FindStringSubmatch(raw); m != nil {
		return Ref{Raw: raw, UserHost: m[1], Path: m[2]}
	}
	return Ref{Raw: raw, Path: raw}
}

// IsRemote reports whether the ref addresses another host.
func (r Ref) IsRemote() bool { return r.UserHost != "" }

// Host returns the host part of a remote ref, without the user prefix.
// Returns "" for local refs.
func (r Ref) Host() string {
	if r.UserHost == "" {
		return ""
	}
	for i := 0; i < len(r.UserHost); i++ {
		if r.UserHost[i] == '@' {
			return r.UserHost[i+1:]
		}
	}
	return r.UserHost
}

// User returns the user part of a remote ref, or "" when absent.
func (r Ref) User() string {
	for i := 0; i < len(r.UserHost); i++ {
		if r.UserHost[i] == '@' {
			return r.UserHost[:i]
		}
	}
	return ""
}
