package main

import (
	"testing"
)

func TestBuildRootRegistersCommands(t *testing.T) {
	root := buildRoot()
	if root.Use != "procsentry" {
		t.Fatalf("root use = %q", root.Use)
	}
	want := map[string]bool{
		"serve": false, "ps": false, "kill <pid>": false, "kill-all <pid>...": false,
		"force-quit <pid>": false, "results": false, "health": false, "refresh": false,
	}
	for _, c := range root.Commands() {
		if _, ok := want[c.Use]; ok {
			want[c.Use] = true
		}
	}
	for use, found := range want {
		if !found {
			t.Errorf("command %q not registered", use)
		}
	}
}

func TestParsePid(t *testing.T) {
	if pid, err := parsePid("123"); err != nil || pid != 123 {
		t.Fatalf("parsePid(123) = %d, %v", pid, err)
	}
	for _, bad := range []string{"", "abc", "-5", "0", "1.5"} {
		if _, err := parsePid(bad); err == nil {
			t.Errorf("parsePid(%q) accepted", bad)
		}
	}
}

func TestGlobalFlagsRegistered(t *testing.T) {
	root := buildRoot()
	for _, name := range []string{"config", "api-url", "api-timeout"} {
		if root.PersistentFlags().Lookup(name) == nil {
			t.Errorf("persistent flag %q missing", name)
		}
	}
}
