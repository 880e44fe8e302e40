// Copyright (C) 2023 Michael J. Fromberger. All Rights Reserved.

package catalog_test

import (
	"testing"

	"github.com/creachadair/labrad/catalog"
	"github.com/creachadair/labrad/data"
	"github.com/google/go-cmp/cmp"
)

func TestCatalogUsage(t *testing.T) {
	cat := catalog.New().SetFirstID(2)

	a := cat.AddServer("alpha")
	b := cat.AddServer("bravo")
	if a != 2 || b != 3 {
		t.Errorf("AddServer: got %d, %d; want 2, 3", a, b)
	}
	if again := cat.AddServer("alpha"); again != a {
		t.Errorf("AddServer repeat: got %d, want %d", again, a)
	}
	cat.SetServer("charlie", 10)

	if id, ok := cat.Server("charlie"); !ok || id != 10 {
		t.Errorf("Server charlie: got %d, %v; want 10, true", id, ok)
	}
	if id, ok := cat.Server("nonesuch"); ok {
		t.Errorf("Server nonesuch: got %d, want not found", id)
	}
	if got := cat.ServerName(b); got != "bravo" {
		t.Errorf("ServerName(%d): got %q, want bravo", b, got)
	}

	cat.SetSetting(a, "echo", 5).SetSetting(a, "add", 6)
	if id, ok := cat.Setting(a, "add"); !ok || id != 6 {
		t.Errorf("Setting add: got %d, %v; want 6, true", id, ok)
	}
	if _, ok := cat.Setting(b, "add"); ok {
		t.Error("Setting add found on the wrong server")
	}

	want := []catalog.Entry{{2, "alpha"}, {3, "bravo"}, {10, "charlie"}}
	if diff := cmp.Diff(want, cat.Servers()); diff != "" {
		t.Errorf("Servers (-want, +got):\n%s", diff)
	}
	if diff := cmp.Diff([]catalog.Entry{{5, "echo"}, {6, "add"}}, cat.Settings(a)); diff != "" {
		t.Errorf("Settings (-want, +got):\n%s", diff)
	}

	// Removal frees the ID for reuse.
	cat.Remove(a)
	if _, ok := cat.Setting(a, "echo"); ok {
		t.Error("Setting found after Remove")
	}
	if got := cat.AddServer("delta"); got != 2 {
		t.Errorf("AddServer after Remove: got %d, want 2", got)
	}
}

func TestEncodeDecode(t *testing.T) {
	in := []catalog.Entry{{1, "Manager"}, {7, "Data Vault"}}
	d := catalog.Encode(in)
	if got := d.Type().String(); got != "*(ws)" {
		t.Errorf("Type: got %q, want *(ws)", got)
	}
	got, err := catalog.Decode(d)
	if err != nil {
		t.Fatalf("Decode: unexpected error: %v", err)
	}
	if diff := cmp.Diff(in, got); diff != "" {
		t.Errorf("Decode (-want, +got):\n%s", diff)
	}

	if got, err := catalog.Decode(data.Str("bogus")); err == nil {
		t.Errorf("Decode string: got %v, want error", got)
	}
}
