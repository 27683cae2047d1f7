package storage

import (
	"errors"
	"testing"

	"github.com/nilchain/consensim/block"
)

func TestPutGetRoundTrip(t *testing.T) {
	idx, err := OpenEphemeral(0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer idx.Close()

	b := block.Genesis()
	if err := idx.Put(b); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := idx.Get(b.Hash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Hash != b.Hash || got.Height != b.Height {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, b)
	}
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	idx, err := OpenEphemeral(1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer idx.Close()

	if _, err := idx.Get("does-not-exist"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHasReflectsPresence(t *testing.T) {
	idx, err := OpenEphemeral(2)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer idx.Close()

	b := block.Genesis()
	if idx.Has(b.Hash) {
		t.Fatal("expected Has to be false before Put")
	}
	if err := idx.Put(b); err != nil {
		t.Fatalf("put: %v", err)
	}
	if !idx.Has(b.Hash) {
		t.Fatal("expected Has to be true after Put")
	}
}
