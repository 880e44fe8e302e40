// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package dispatch implements a table of settings for a LabRAD server, with
// overload resolution by accepted type.
//
// A setting has a numeric ID, a name, and one or more overloads. Each
// overload declares the type tags it accepts and returns, and a handler. The
// accepted types of the overloads of a setting must be pairwise disjoint, so
// that an incoming value selects at most one of them. This is checked when
// the setting is added to a [Registry].
package dispatch

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/creachadair/labrad"
	"github.com/creachadair/labrad/data"
	"github.com/creachadair/labrad/types"
)

var (
	// ErrUnknownSetting is reported by Resolve for an unregistered setting.
	ErrUnknownSetting = errors.New("unknown setting")

	// ErrNoMatch is reported by Resolve when no overload accepts a value.
	ErrNoMatch = errors.New("no overload accepts this type")
)

// A Request is the argument to a Handler.
type Request struct {
	Context labrad.Context // the request context
	Source  uint32         // ID of the requesting connection
	Setting uint32         // the setting ID
	Data    *data.Data     // the argument value

	// Session is the context-scoped state of the server for Context, if any.
	Session any
}

// A Handler executes a setting. If it reports an error, the error is
// returned to the caller in place of a result. A handler may return a
// *labrad.RemoteError to choose the error code.
type Handler func(ctx context.Context, req *Request) (*data.Data, error)

// A Setting describes one overload of a remotely callable setting.
type Setting struct {
	ID      uint32
	Name    string
	Doc     string
	Accepts []string // accepted type tags; empty means "?"
	Returns []string // returned type tags; empty means "?"
	Handler Handler
}

// Info is the registration info for a setting, combining all its overloads.
type Info struct {
	ID      uint32
	Name    string
	Doc     string
	Accepts []string
	Returns []string
}

// InfoType is the type of the registration record sent to the manager.
var InfoType = types.MustParse("(ws*s*ss): ID, name, accepts, returns, doc")

// Data returns the registration record for i.
func (i Info) Data() *data.Data {
	strs := func(ss []string) *data.Data {
		out := data.List(types.Str)
		for _, s := range ss {
			out.Append(data.Str(s))
		}
		return out
	}
	return data.Cluster(data.Word(i.ID), data.Str(i.Name),
		strs(i.Accepts), strs(i.Returns), data.Str(i.Doc))
}

type overload struct {
	accepts []*types.Type
	returns []*types.Type
	h       Handler
}

func (o overload) accept(t *types.Type) bool {
	return slices.ContainsFunc(o.accepts, func(a *types.Type) bool {
		return types.Matches(a, t) || types.Matches(t, a)
	})
}

type entry struct {
	info      Info
	overloads []overload
}

// A Registry is a table of settings. A Registry is safe for concurrent use
// by multiple goroutines once it has been populated.
type Registry struct {
	byID   map[uint32]*entry
	byName map[string]uint32
}

// New constructs a registry containing the given settings. It reports an
// error if any of them cannot be added.
func New(settings ...Setting) (*Registry, error) {
	r := &Registry{byID: make(map[uint32]*entry), byName: make(map[string]uint32)}
	for _, s := range settings {
		if err := r.Add(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MustNew is as New, but panics if any setting cannot be added.
func MustNew(settings ...Setting) *Registry {
	r, err := New(settings...)
	if err != nil {
		panic(err)
	}
	return r
}

func parseTags(tags []string) ([]*types.Type, error) {
	if len(tags) == 0 {
		return []*types.Type{types.Any}, nil
	}
	out := make([]*types.Type, len(tags))
	for i, tag := range tags {
		t, err := types.Parse(tag)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

// Add adds a setting to r. A setting whose ID and name are both already
// registered is added as a new overload. Add reports an error if the ID and
// name conflict with another setting, if a type tag is invalid, or if the
// accepted types overlap those of an existing overload.
func (r *Registry) Add(s Setting) error {
	switch {
	case s.ID == 0:
		return fmt.Errorf("setting %q: ID must be positive", s.Name)
	case s.Name == "":
		return fmt.Errorf("setting %d: empty name", s.ID)
	case s.Handler == nil:
		return fmt.Errorf("setting %d %q: nil handler", s.ID, s.Name)
	}
	acc, err := parseTags(s.Accepts)
	if err != nil {
		return fmt.Errorf("setting %d %q: accepts: %w", s.ID, s.Name, err)
	}
	ret, err := parseTags(s.Returns)
	if err != nil {
		return fmt.Errorf("setting %d %q: returns: %w", s.ID, s.Name, err)
	}
	ov := overload{accepts: acc, returns: ret, h: s.Handler}

	if id, ok := r.byName[s.Name]; ok && id != s.ID {
		return fmt.Errorf("setting %d %q: name already used by setting %d", s.ID, s.Name, id)
	}
	e, ok := r.byID[s.ID]
	if !ok {
		r.byID[s.ID] = &entry{
			info: Info{
				ID: s.ID, Name: s.Name, Doc: s.Doc,
				Accepts: tagStrings(acc), Returns: tagStrings(ret),
			},
			overloads: []overload{ov},
		}
		r.byName[s.Name] = s.ID
		return nil
	} else if e.info.Name != s.Name {
		return fmt.Errorf("setting %d %q: ID already used by %q", s.ID, s.Name, e.info.Name)
	}
	for i, old := range e.overloads {
		for _, t := range acc {
			if old.accept(t) {
				return fmt.Errorf("setting %d %q: accepted type %q overlaps overload %d", s.ID, s.Name, t, i)
			}
		}
	}
	e.overloads = append(e.overloads, ov)
	e.info.Accepts = appendNew(e.info.Accepts, tagStrings(acc)...)
	e.info.Returns = appendNew(e.info.Returns, tagStrings(ret)...)
	if e.info.Doc == "" {
		e.info.Doc = s.Doc
	}
	return nil
}

func tagStrings(ts []*types.Type) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.String()
	}
	return out
}

func appendNew(ss []string, more ...string) []string {
	for _, s := range more {
		if !slices.Contains(ss, s) {
			ss = append(ss, s)
		}
	}
	return ss
}

// Lookup reports the ID of the setting with the given name.
func (r *Registry) Lookup(name string) (uint32, bool) {
	id, ok := r.byName[name]
	return id, ok
}

// Settings returns the registration info for each setting, ordered by ID.
func (r *Registry) Settings() []Info {
	out := make([]Info, 0, len(r.byID))
	for _, e := range r.byID {
		info := e.info
		info.Accepts = slices.Clone(info.Accepts)
		info.Returns = slices.Clone(info.Returns)
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b Info) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// A Match is the result of resolving a call.
type Match struct {
	Info    Info
	Handler Handler

	returns []*types.Type
}

// Resolve finds the overload of setting id that accepts a value of type t.
// Overloads are tried in registration order, and the first match wins.
func (r *Registry) Resolve(id uint32, t *types.Type) (*Match, error) {
	e, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("setting %d: %w", id, ErrUnknownSetting)
	}
	for _, ov := range e.overloads {
		if ov.accept(t) {
			return &Match{Info: e.info, Handler: ov.h, returns: ov.returns}, nil
		}
	}
	return nil, fmt.Errorf("setting %d %q, type %q: %w", id, e.info.Name, t, ErrNoMatch)
}

// Call resolves req against r and invokes the matching handler. The result
// must match one of the returned types declared by the overload; a nil
// result is treated as empty.
func (r *Registry) Call(ctx context.Context, req *Request) (*data.Data, error) {
	m, err := r.Resolve(req.Setting, req.Data.Type())
	if err != nil {
		return nil, err
	}
	out, err := m.Handler(ctx, req)
	if err != nil {
		return nil, err
	} else if out == nil {
		out = data.Empty()
	}
	if !slices.ContainsFunc(m.returns, func(t *types.Type) bool { return types.Matches(t, out.Type()) }) {
		return nil, fmt.Errorf("setting %d %q: result type %q not among %q",
			m.Info.ID, m.Info.Name, out.Type(), tagStrings(m.returns))
	}
	return out, nil
}
