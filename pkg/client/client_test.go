package client

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestTokenPath(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{"alice@example.com", "tokens/alice@example.com.json"},
		{"weird/../user@example.com", "tokens/weird_.._user@example.com.json"},
	}

	for _, tc := range tests {
		if got := TokenPath("tokens", tc.email); got != filepath.FromSlash(tc.want) {
			t.Errorf("TokenPath(%q) = %q, want %q", tc.email, got, tc.want)
		}
	}
}

func TestListUsers(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"bob@example.com.json", "alice@example.com.json", "README.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o600); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}

	users, err := ListUsers(dir)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	want := []string{"alice@example.com", "bob@example.com"}
	if !reflect.DeepEqual(users, want) {
		t.Errorf("ListUsers: got %v, want %v", users, want)
	}
}

func TestListUsersMissingDir(t *testing.T) {
	users, err := ListUsers(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("ListUsers on missing dir: %v", err)
	}
	if users != nil {
		t.Errorf("ListUsers on missing dir: got %v, want nil", users)
	}
}
