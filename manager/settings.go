// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package manager

import (
	"errors"
	"fmt"

	"github.com/creachadair/labrad"
	"github.com/creachadair/labrad/catalog"
	"github.com/creachadair/labrad/data"
	"github.com/creachadair/labrad/dispatch"
	"github.com/creachadair/labrad/types"
)

// A builtin is a setting implemented by the manager itself.
type builtin struct {
	id   uint32
	name string
	run  func(m *Manager, s *session, ctx labrad.Context, arg *data.Data) (*data.Data, error)
}

var builtins = []builtin{
	{labrad.SettingServers, "Servers", (*Manager).servers},
	{labrad.SettingSettings, "Settings", (*Manager).settings},
	{labrad.SettingLookup, "Lookup", (*Manager).lookup},
	{labrad.SettingExpireContext, "Expire Context", (*Manager).expireContext},
	{labrad.SettingRegisterSetting, "Register Setting", (*Manager).registerSetting},
	{labrad.SettingNotifyOnContextExpiration, "Notify on Context Expiration", (*Manager).notifyOnExpiration},
	{labrad.SettingStartServing, "Start Serving", (*Manager).startServing},
}

var (
	errUnknownServer  = errors.New("unknown server")
	errUnknownSetting = errors.New("unknown setting")
	errNotServer      = errors.New("only servers may call this setting")

	lookupSettings  = types.MustParse("(w*s)")
	lookupByName    = types.MustParse("(s*s)")
	expireOne       = types.MustParse("(ww)")
	notifyArgs      = types.MustParse("(wb)")
	settingsReplyWS = types.MustParse("(w*w)")
)

// serveManager executes a request addressed to the manager. Records are
// executed in order, and the first error ends the request.
func (m *Manager) serveManager(s *session, pkt *labrad.Packet) {
	var out []labrad.Record
	for _, r := range pkt.Records {
		b, ok := findBuiltin(r.ID)
		if !ok {
			out = append(out, labrad.Record{ID: r.ID, Data: data.Error(0, errUnknownSetting.Error(), nil)})
			break
		}
		v, err := b.run(m, s, pkt.Context, r.Data)
		if err != nil {
			out = append(out, labrad.Record{ID: r.ID, Data: data.Error(0, fmt.Sprintf("%s: %v", b.name, err), nil)})
			break
		}
		out = append(out, labrad.Record{ID: r.ID, Data: v})
	}
	s.send(pkt.Reply(out...))
}

func findBuiltin(id uint32) (builtin, bool) {
	for _, b := range builtins {
		if b.id == id {
			return b, true
		}
	}
	return builtin{}, false
}

// servers lists the servers in the directory: _ → *(ws).
func (m *Manager) servers(_ *session, _ labrad.Context, _ *data.Data) (*data.Data, error) {
	m.μ.Lock()
	defer m.μ.Unlock()
	return catalog.Encode(m.cat.Servers()), nil
}

// resolveServer finds a server by ID (w) or name (s).
func (m *Manager) resolveServer(d *data.Data) (uint32, error) {
	switch d.Kind() {
	case types.KindWord:
		id := d.Word()
		if m.cat.ServerName(id) == "" {
			return 0, fmt.Errorf("%w: %d", errUnknownServer, id)
		}
		return id, nil
	case types.KindString:
		id, ok := m.cat.Server(d.Str())
		if !ok {
			return 0, fmt.Errorf("%w: %q", errUnknownServer, d.Str())
		}
		return id, nil
	}
	return 0, fmt.Errorf("invalid server designator %q", d.Type())
}

// settings lists the settings of a server: w or s → *(ws).
func (m *Manager) settings(_ *session, _ labrad.Context, arg *data.Data) (*data.Data, error) {
	m.μ.Lock()
	defer m.μ.Unlock()
	id, err := m.resolveServer(arg)
	if err != nil {
		return nil, err
	}
	return catalog.Encode(m.cat.Settings(id)), nil
}

// lookup resolves names: s → w for a server, and (w*s) or (s*s) → (w*w)
// for settings of a server.
func (m *Manager) lookup(_ *session, _ labrad.Context, arg *data.Data) (*data.Data, error) {
	m.μ.Lock()
	defer m.μ.Unlock()
	if arg.Kind() == types.KindString {
		return m.resolveWord(arg)
	} else if !types.Matches(lookupSettings, arg.Type()) && !types.Matches(lookupByName, arg.Type()) {
		return nil, fmt.Errorf("invalid argument type %q", arg.Type())
	}
	id, err := m.resolveServer(arg.Get(0))
	if err != nil {
		return nil, err
	}
	names := arg.Get(1)
	out := data.New(settingsReplyWS)
	out.Get(0).SetWord(id)
	ids := out.Get(1)
	for i := range names.Len() {
		name := names.Elem(i).Str()
		sid, ok := m.cat.Setting(id, name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", errUnknownSetting, name)
		}
		ids.Append(data.Word(sid))
	}
	return out, nil
}

func (m *Manager) resolveWord(arg *data.Data) (*data.Data, error) {
	id, err := m.resolveServer(arg)
	if err != nil {
		return nil, err
	}
	return data.Word(id), nil
}

// expireContext expires a context of the caller, (ww), or all contexts of
// the caller whose high word matches, w. A zero high word means the caller.
func (m *Manager) expireContext(s *session, _ labrad.Context, arg *data.Data) (*data.Data, error) {
	switch {
	case types.Matches(expireOne, arg.Type()):
		ctx := absolute(s, labrad.Context{High: arg.Get(0).Word(), Low: arg.Get(1).Word()})
		m.notifyExpired(data.Cluster(data.Word(ctx.High), data.Word(ctx.Low)))
	case arg.Kind() == types.KindWord:
		high := arg.Word()
		if high == 0 {
			high = s.id
		}
		m.notifyExpired(data.Word(high))
	default:
		return nil, fmt.Errorf("invalid argument type %q", arg.Type())
	}
	return data.Empty(), nil
}

// registerSetting adds a setting to the directory entry of the calling
// server: (ws*s*ss) → _.
func (m *Manager) registerSetting(s *session, _ labrad.Context, arg *data.Data) (*data.Data, error) {
	if !s.server {
		return nil, errNotServer
	} else if !types.Matches(dispatch.InfoType, arg.Type()) {
		return nil, fmt.Errorf("invalid argument type %q", arg.Type())
	}
	id, name := arg.Get(0).Word(), arg.Get(1).Str()
	m.μ.Lock()
	defer m.μ.Unlock()
	if old, ok := m.cat.Setting(s.id, name); ok && old != id {
		return nil, fmt.Errorf("setting %q already registered with ID %d", name, old)
	}
	m.cat.SetSetting(s.id, name, id)
	return data.Empty(), nil
}

// notifyOnExpiration subscribes the calling server to context expiration
// messages with the given message ID, or unsubscribes it: (wb) → _.
func (m *Manager) notifyOnExpiration(s *session, _ labrad.Context, arg *data.Data) (*data.Data, error) {
	if !s.server {
		return nil, errNotServer
	} else if !types.Matches(notifyArgs, arg.Type()) {
		return nil, fmt.Errorf("invalid argument type %q", arg.Type())
	}
	m.μ.Lock()
	defer m.μ.Unlock()
	if arg.Get(1).Bool() {
		m.subs[s.id] = arg.Get(0).Word()
	} else {
		delete(m.subs, s.id)
	}
	return data.Empty(), nil
}

// startServing marks the calling server as ready for requests: _ → _.
func (m *Manager) startServing(s *session, _ labrad.Context, _ *data.Data) (*data.Data, error) {
	if !s.server {
		return nil, errNotServer
	}
	m.μ.Lock()
	defer m.μ.Unlock()
	s.serving = true
	m.log.Info().Uint32("id", s.id).Str("name", s.name).Msg("server ready")
	return data.Empty(), nil
}
