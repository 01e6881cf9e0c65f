package credentials

import (
	"encoding/base64"
	"errors"
	"testing"
)

func TestHash_Deterministic(t *testing.T) {
	t.Parallel()

	engine := NewEngine()
	salt, err := engine.MakeSalt(0)
	if err != nil {
		t.Fatalf("MakeSalt error: %v", err)
	}

	first, err := engine.Hash("hunter2", salt)
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	second, err := engine.Hash("hunter2", salt)
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if first != second {
		t.Fatalf("hash not deterministic: %q vs %q", first, second)
	}

	raw, err := base64.StdEncoding.DecodeString(first)
	if err != nil {
		t.Fatalf("hash is not base64: %v", err)
	}
	if len(raw) != 64 {
		t.Fatalf("derived key length = %d, want 64", len(raw))
	}
}

func TestMakeSalt_DefaultSize(t *testing.T) {
	t.Parallel()

	engine := NewEngine()
	salt, err := engine.MakeSalt(0)
	if err != nil {
		t.Fatalf("MakeSalt error: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		t.Fatalf("salt is not base64: %v", err)
	}
	if len(raw) != 16 {
		t.Fatalf("default salt length = %d, want 16", len(raw))
	}

	other, err := engine.MakeSalt(32)
	if err != nil {
		t.Fatalf("MakeSalt error: %v", err)
	}
	raw, err = base64.StdEncoding.DecodeString(other)
	if err != nil {
		t.Fatalf("salt is not base64: %v", err)
	}
	if len(raw) != 32 {
		t.Fatalf("salt length = %d, want 32", len(raw))
	}
}

func TestHash_RequiresPasswordAndSalt(t *testing.T) {
	t.Parallel()

	engine := NewEngine()
	if _, err := engine.Hash("", "c2FsdA=="); !errors.Is(err, ErrMissingPassword) {
		t.Fatalf("expected ErrMissingPassword, got %v", err)
	}
	if _, err := engine.Hash("hunter2", ""); !errors.Is(err, ErrMissingSalt) {
		t.Fatalf("expected ErrMissingSalt, got %v", err)
	}
	if _, err := engine.Hash("hunter2", "not base64!!"); err == nil {
		t.Fatalf("expected error for undecodable salt")
	}
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	engine := NewEngine()
	salt, err := engine.MakeSalt(0)
	if err != nil {
		t.Fatalf("MakeSalt error: %v", err)
	}
	hash, err := engine.Hash("hunter2", salt)
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	if !engine.Authenticate("hunter2", hash, salt) {
		t.Fatalf("correct password rejected")
	}
	if engine.Authenticate("hunter3", hash, salt) {
		t.Fatalf("wrong password accepted")
	}

	otherSalt, err := engine.MakeSalt(0)
	if err != nil {
		t.Fatalf("MakeSalt error: %v", err)
	}
	if engine.Authenticate("hunter2", hash, otherSalt) {
		t.Fatalf("wrong salt accepted")
	}
	if engine.Authenticate("", hash, salt) {
		t.Fatalf("empty password accepted")
	}
}
