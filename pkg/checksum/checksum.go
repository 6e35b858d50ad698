// Package checksum computes and verifies content digests in the "<algorithm>:<hex>" form.
package checksum

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/blake2b"
)

type Algorithm string

const (
	AlgorithmSHA256     Algorithm = "sha256"
	AlgorithmBLAKE2b256 Algorithm = "blake2b-256"
)

// Default is used when a checksum carries no algorithm prefix.
const Default = AlgorithmSHA256

var (
	ErrUnknownAlgorithm = errors.New("unknown checksum algorithm")
	ErrMalformed        = errors.New("malformed checksum")
)

// Sum is a parsed checksum.
type Sum struct {
	Algorithm Algorithm
	Hex       string
}

func (s Sum) String() string {
	return string(s.Algorithm) + ":" + s.Hex
}

func (a Algorithm) new() (hash.Hash, error) {
	switch a {
	case AlgorithmSHA256:
		return sha256.New(), nil
	case AlgorithmBLAKE2b256:
		return blake2b.New256(nil)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, string(a))
	}
}

// Parse reads "<algorithm>:<hex>" or bare hex, which is taken as sha256.
func Parse(value string) (Sum, error) {
	value = strings.TrimSpace(value)

	algorithm, digest, found := strings.Cut(value, ":")
	if !found {
		algorithm, digest = string(Default), value
	}

	sum := Sum{Algorithm: Algorithm(strings.ToLower(algorithm)), Hex: strings.ToLower(digest)}

	h, err := sum.Algorithm.new()
	if err != nil {
		return Sum{}, err
	}

	raw, err := hex.DecodeString(sum.Hex)
	if err != nil || len(raw) != h.Size() {
		return Sum{}, fmt.Errorf("%w: %q", ErrMalformed, value)
	}

	return sum, nil
}

// Compute digests content with the given algorithm.
func Compute(algorithm Algorithm, content []byte) (Sum, error) {
	h, err := algorithm.new()
	if err != nil {
		return Sum{}, err
	}

	h.Write(content)

	return Sum{Algorithm: algorithm, Hex: hex.EncodeToString(h.Sum(nil))}, nil
}

// Verify recomputes content with the expected sum's algorithm and reports the actual sum.
func Verify(expected Sum, content []byte) (Sum, bool, error) {
	actual, err := Compute(expected.Algorithm, content)
	if err != nil {
		return Sum{}, false, err
	}

	return actual, subtle.ConstantTimeCompare([]byte(actual.Hex), []byte(expected.Hex)) == 1, nil
}
