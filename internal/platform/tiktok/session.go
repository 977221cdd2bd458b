package tiktok

import (
	"sync/atomic"
)

// Session holds the negotiated API state shared by every call made through
// one Negotiator. The pinned version settles once; later pins are ignored.
type Session struct {
	candidates []AppVersion
	pinned     atomic.Pointer[AppVersion]
}

// NewSession creates a session that negotiates among the given candidates,
// most recent first
func NewSession(candidates []AppVersion) *Session {
	c := make([]AppVersion, len(candidates))
	copy(c, candidates)
	return &Session{candidates: c}
}

// Candidates returns the ordered candidate list
func (s *Session) Candidates() []AppVersion {
	return s.candidates
}

// Pinned returns the working version, if one has been settled
func (s *Session) Pinned() (AppVersion, bool) {
	v := s.pinned.Load()
	if v == nil {
		return AppVersion{}, false
	}
	return *v, true
}

// Pin settles the working version. It reports whether this call did the
// settling; a session that is already pinned keeps its version.
func (s *Session) Pin(v AppVersion) bool {
	return s.pinned.CompareAndSwap(nil, &v)
}

// Override is an operator supplied version pair
type Override struct {
	AppVersion         string
	ManifestAppVersion string
}

// Resolve returns the override as a version when both halves are present.
// partial reports that exactly one half was given.
func (o Override) Resolve() (v AppVersion, ok bool, partial bool) {
	switch {
	case o.AppVersion != "" && o.ManifestAppVersion != "":
		return AppVersion{Version: o.AppVersion, ManifestCode: o.ManifestAppVersion}, true, false
	case o.AppVersion != "" || o.ManifestAppVersion != "":
		return AppVersion{}, false, true
	default:
		return AppVersion{}, false, false
	}
}
