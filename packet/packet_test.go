// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package packet_test

import (
	"errors"
	"io"
	"testing"

	"github.com/creachadair/labrad/packet"
	"github.com/google/go-cmp/cmp"
)

func TestBuilder(t *testing.T) {
	var b packet.Builder
	b.Put(1, 5, 9, 100)
	b.Uint32(0xfc009a01)
	b.Int32(-2)
	b.LPutString("apple")
	b.LPut([]byte("pear"))
	b.Put('x', 'y', 'z', 'z', 'y')

	const want = "\x01\x05\x09\x64\xfc\x00\x9a\x01\xff\xff\xff\xfe" +
		"\x00\x00\x00\x05apple\x00\x00\x00\x04pearxyzzy"

	if n := b.Len(); n != len(want) {
		t.Errorf("Len = %d, want %d", n, len(want))
	}
	if string(b.Bytes()) != want {
		t.Errorf("Bytes = %q, want %q", b.Bytes(), want)
	}

	s := packet.NewScanner(b.Bytes())
	check(t, "Bool", s.Bool, true)
	check(t, "Byte 1", s.Byte, 5)
	check(t, "Byte 2", s.Byte, 9)
	check(t, "Byte 3", s.Byte, 100)
	check(t, "Uint32", s.Uint32, 0xfc009a01)
	check(t, "Int32", s.Int32, -2)
	check(t, "LString", func() (string, error) { return packet.LGet[string](s) }, "apple")
	check(t, "LBytes", func() ([]byte, error) { return packet.LGet[[]byte](s) }, []byte("pear"))
	check(t, "Literal", func() (string, error) { return packet.Get[string](s, 5) }, "xyzzy")

	if s.Len() != 0 {
		t.Errorf("Extra data at EOF (%d bytes)", s.Len())
	}
	if got := s.Offset(); got != len(want) {
		t.Errorf("Offset = %d, want %d", got, len(want))
	}
}

func TestSetUint32(t *testing.T) {
	var b packet.Builder
	b.Uint32(0)
	b.Put('a', 'b', 'c')
	b.SetUint32(0, uint32(b.Len()-4))
	if got, want := string(b.Bytes()), "\x00\x00\x00\x03abc"; got != want {
		t.Errorf("Bytes = %q, want %q", got, want)
	}
}

func TestScannerTruncated(t *testing.T) {
	tests := []struct {
		name  string
		input string
		scan  func(*packet.Scanner) error
	}{
		{"Byte", "", func(s *packet.Scanner) error { _, err := s.Byte(); return err }},
		{"Uint32", "\x00\x01", func(s *packet.Scanner) error { _, err := s.Uint32(); return err }},
		{"Int32", "\x00\x01\x02", func(s *packet.Scanner) error { _, err := s.Int32(); return err }},
		{"LGet", "\x00\x00\x00\x09abc", func(s *packet.Scanner) error {
			_, err := packet.LGet[string](s)
			return err
		}},
		{"LGetHuge", "\xff\xff\xff\xffabc", func(s *packet.Scanner) error {
			_, err := packet.LGet[[]byte](s)
			return err
		}},
	}
	for _, tc := range tests {
		err := tc.scan(packet.NewScanner(tc.input))
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("%s(%q): got %v, want %v", tc.name, tc.input, err, io.ErrUnexpectedEOF)
		}
	}
}

func check[T any](t *testing.T, label string, f func() (T, error), want T) {
	t.Helper()

	got, err := f()
	if err != nil {
		t.Errorf("%s: unexpected error: %v", label, err)
	} else if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("%s result (-got, +want):\n%s", label, diff)
	}
}
