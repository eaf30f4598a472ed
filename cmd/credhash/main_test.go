package main

import (
	"strings"
	"testing"

	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/ledger"
)

func TestReadAnswer(t *testing.T) {
	got, err := readAnswer([]string{"Blue"}, strings.NewReader(""))
	if err != nil || got != "Blue" {
		t.Fatalf("arg answer=%q err=%v", got, err)
	}
	got, err = readAnswer(nil, strings.NewReader("  Green \n"))
	if err != nil || got != "Green" {
		t.Fatalf("stdin answer=%q err=%v", got, err)
	}
	if _, err := readAnswer(nil, strings.NewReader("\n")); err == nil {
		t.Fatalf("expected error for empty answer")
	}
}

func TestHashVerifiesCaseInsensitively(t *testing.T) {
	hash, err := ledger.HashSecurityAnswer("Blue")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !ledger.VerifySecurityAnswer(hash, " blue ") || ledger.VerifySecurityAnswer(hash, "red") {
		t.Fatalf("unexpected verification result")
	}
}
