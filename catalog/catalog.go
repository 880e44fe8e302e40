// Copyright (C) 2023 Michael J. Fromberger. All Rights Reserved.

// Package catalog defines a mapping from server and setting names to IDs.
//
// Names are not exchanged in request packets; a client resolves them to IDs
// with a lookup request to the manager and caches the result in a Catalog.
// The manager uses a Catalog as its directory of connected servers.
//
// # Usage
//
// Construct a new empty catalog and add servers to it:
//
//	cat := catalog.New()
//	id := cat.AddServer("Data Vault")
//
// AddServer assigns a fresh ID. If you want to choose the ID, use SetServer:
//
//	cat.SetServer("Data Vault", 12)
//
// Settings are recorded per server:
//
//	cat.SetSetting(id, "open", 10)
//	sid, ok := cat.Setting(id, "open")
//
// A Catalog is not safe for concurrent use without external synchronization.
package catalog

import (
	"cmp"
	"fmt"
	"maps"
	"slices"

	"github.com/creachadair/labrad/data"
	"github.com/creachadair/labrad/types"
)

// An Entry is a name paired with its ID.
type Entry struct {
	ID   uint32
	Name string
}

// A Catalog maps server names to server IDs, and each server's setting names
// to setting IDs.
type Catalog struct {
	servers  map[string]uint32
	settings map[uint32]map[string]uint32
	firstID  uint32
}

// New creates a new empty catalog. Server IDs chosen by AddServer start
// at 1.
func New() *Catalog {
	return &Catalog{
		servers:  make(map[string]uint32),
		settings: make(map[uint32]map[string]uint32),
		firstID:  1,
	}
}

// SetFirstID sets the smallest ID AddServer will assign, and returns c to
// allow chaining.
func (c *Catalog) SetFirstID(id uint32) *Catalog { c.firstID = id; return c }

// AddServer adds name to c with a fresh ID and returns the ID. If name is
// already present, its existing ID is returned.
func (c *Catalog) AddServer(name string) uint32 {
	if id, ok := c.servers[name]; ok {
		return id
	}
	id := c.pickUnusedID()
	c.servers[name] = id
	return id
}

// SetServer maps name to id in c, and returns c to allow chaining. If name was
// already mapped, the existing mapping and its settings are replaced.
func (c *Catalog) SetServer(name string, id uint32) *Catalog {
	if old, ok := c.servers[name]; ok && old != id {
		delete(c.settings, old)
	}
	c.servers[name] = id
	return c
}

func (c *Catalog) pickUnusedID() uint32 {
	used := make(map[uint32]bool, len(c.servers))
	for _, id := range c.servers {
		used[id] = true
	}
	id := c.firstID
	for used[id] {
		id++
	}
	return id
}

// Server returns the ID assigned to the named server, and reports whether
// it was found.
func (c *Catalog) Server(name string) (uint32, bool) {
	id, ok := c.servers[name]
	return id, ok
}

// ServerName returns the name of the server with the given ID, or "".
func (c *Catalog) ServerName(id uint32) string {
	for name, sid := range c.servers {
		if sid == id {
			return name
		}
	}
	return ""
}

// SetSetting maps the named setting of server to id, and returns c to allow
// chaining.
func (c *Catalog) SetSetting(server uint32, name string, id uint32) *Catalog {
	m, ok := c.settings[server]
	if !ok {
		m = make(map[string]uint32)
		c.settings[server] = m
	}
	m[name] = id
	return c
}

// Setting returns the ID of the named setting of server, and reports whether
// it was found.
func (c *Catalog) Setting(server uint32, name string) (uint32, bool) {
	id, ok := c.settings[server][name]
	return id, ok
}

// Remove discards the server with the given ID and all its settings.
func (c *Catalog) Remove(server uint32) {
	maps.DeleteFunc(c.servers, func(_ string, id uint32) bool { return id == server })
	delete(c.settings, server)
}

// Clear discards all the contents of c.
func (c *Catalog) Clear() {
	clear(c.servers)
	clear(c.settings)
}

// Servers returns the servers of c ordered by ID.
func (c *Catalog) Servers() []Entry {
	return sortedEntries(c.servers)
}

// Settings returns the settings of server ordered by ID.
func (c *Catalog) Settings(server uint32) []Entry {
	return sortedEntries(c.settings[server])
}

func sortedEntries(m map[string]uint32) []Entry {
	out := make([]Entry, 0, len(m))
	for name, id := range m {
		out = append(out, Entry{ID: id, Name: name})
	}
	slices.SortFunc(out, func(a, b Entry) int {
		if v := cmp.Compare(a.ID, b.ID); v != 0 {
			return v
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}

// EntryListType is the type of an encoded list of entries.
var EntryListType = types.MustParse("*(ws)")

// Encode encodes entries as a list of (ID, name) clusters.
func Encode(entries []Entry) *data.Data {
	d := data.New(EntryListType)
	d.SetShape(len(entries))
	for i, e := range entries {
		elt := d.Elem(i)
		elt.Get(0).SetWord(e.ID)
		elt.Get(1).SetStr(e.Name)
	}
	return d
}

// Decode decodes a list of (ID, name) clusters as produced by Encode.
func Decode(d *data.Data) ([]Entry, error) {
	if !types.Matches(EntryListType, d.Type()) {
		return nil, fmt.Errorf("catalog: wrong type %q for entry list", d.Type())
	}
	out := make([]Entry, d.Len())
	for i := range out {
		elt := d.Elem(i)
		out[i] = Entry{ID: elt.Get(0).Word(), Name: elt.Get(1).Str()}
	}
	return out, nil
}
