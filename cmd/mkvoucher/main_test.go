package main

import (
	"bytes"
	"crypto/rand"
	"testing"
	"time"

	"github.com/0gfoundation/0g-voucher-escrow/internal/voucher"
)

func TestGenerate(t *testing.T) {
	gen, err := generate(3, rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, g := range gen {
		if err := voucher.ValidateID(g.ID); err != nil {
			t.Errorf("id %q: %v", g.ID, err)
		}
		if len(g.Secret) != 64 {
			t.Errorf("secret length %d", len(g.Secret))
		}
		if !voucher.VerifySecret(g.Secret, g.Commitment) {
			t.Errorf("commitment does not match secret for %s", g.ID)
		}
		if seen[g.ID] {
			t.Errorf("duplicate id %s", g.ID)
		}
		seen[g.ID] = true
	}
}

func TestGenerate_ShortEntropy(t *testing.T) {
	if _, err := generate(1, bytes.NewReader(make([]byte, 10))); err == nil {
		t.Fatal("expected error when the reader runs dry")
	}
}

func TestCreateBody(t *testing.T) {
	gen := []Generated{{ID: "aaaaaaaaaaaa", Commitment: "c1"}, {ID: "bbbbbbbbbbbb", Commitment: "c2"}}
	now := time.Unix(100, 0)

	b := createBody(gen, voucher.Linear, "10", time.Hour, now)
	if len(b.IDs) != 2 || b.IDs[1] != "bbbbbbbbbbbb" || b.Commitments[0] != "c1" {
		t.Errorf("ids/commitments: %+v", b)
	}
	if b.ExpireAt == nil || *b.ExpireAt != now.Add(time.Hour).UnixNano() {
		t.Errorf("expire_at: %v", b.ExpireAt)
	}

	if b := createBody(gen, voucher.Static, "10", 0, now); b.ExpireAt != nil {
		t.Error("no expiry expected")
	}
}
