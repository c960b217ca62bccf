package main

import "testing"

func TestParseFlagsKeepsOnlyChangedValues(t *testing.T) {
	t.Parallel()

	flags, err := parseFlags([]string{"--token", "abcd1234", "-p", "9000"})
	if err != nil {
		t.Fatalf("parseFlags returned error: %v", err)
	}

	if flags.Token == nil || *flags.Token != "abcd1234" {
		t.Fatalf("expected token override, got %v", flags.Token)
	}
	if flags.Port == nil || *flags.Port != 9000 {
		t.Fatalf("expected port override, got %v", flags.Port)
	}
	if flags.Offline != nil {
		t.Fatalf("expected offline to stay unset")
	}
}

func TestParseFlagsRejectsUnknownFlags(t *testing.T) {
	t.Parallel()

	if _, err := parseFlags([]string{"--nope"}); err == nil {
		t.Fatalf("expected error for unknown flag")
	}
}
