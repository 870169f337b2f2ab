// Package xfrtest shares one compiled transfer circuit and key pair across
// the tests of every package that needs to build or verify notes.
package xfrtest

import (
	"sync"
	"testing"

	"github.com/consensys/gnark/logger"

	"utxoledger/internal/keys"
	"utxoledger/internal/xfr"
)

var (
	once   sync.Once
	system *xfr.System
	err    error
)

// System returns the shared proving system, running setup on first use.
func System(tb testing.TB) *xfr.System {
	tb.Helper()
	once.Do(func() {
		logger.Disable()
		system, err = xfr.Setup()
	})
	if err != nil {
		tb.Fatalf("transfer circuit setup failed: %v", err)
	}
	return system
}

// Record creates an opened record or fails the test.
func Record(tb testing.TB, owner keys.PublicKey, amount uint64, asset xfr.AssetType) xfr.Opened {
	tb.Helper()
	o, err := xfr.NewRecord(owner, amount, asset)
	if err != nil {
		tb.Fatalf("NewRecord failed: %v", err)
	}
	return o
}

// Prove builds a note or fails the test.
func Prove(tb testing.TB, inputs, outputs []xfr.Opened) *xfr.Note {
	tb.Helper()
	note, err := System(tb).Prove(inputs, outputs)
	if err != nil {
		tb.Fatalf("Prove failed: %v", err)
	}
	return note
}

// KeyPair generates a signing key or fails the test.
func KeyPair(tb testing.TB) *keys.KeyPair {
	tb.Helper()
	kp, err := keys.GenerateKeyPair(nil)
	if err != nil {
		tb.Fatalf("GenerateKeyPair failed: %v", err)
	}
	return kp
}
