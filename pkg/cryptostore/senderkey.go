// Package cryptostore implements per-sender symmetric key management and
// AEAD encryption with the media header used as Additional Authenticated
// Data (spec §4.2).
package cryptostore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the width of a sender key in bytes.
const KeySize = 32

// NonceSize is the AEAD nonce width, per spec §3/§4.2.
const NonceSize = 12

// sequenceRotationThreshold implements the REDESIGN FLAG in spec §9:
// rotate the local key well before the 16-bit sequence wraps, so wrap
// and epoch rotation never race.
const sequenceRotationThreshold = 1 << 15

// ErrUnknownKey is returned by Decrypt when no key is held for (ssrc, epoch).
var ErrUnknownKey = errors.New("cryptostore: unknown key")

// ErrAuthFailed is returned by Decrypt when AEAD tag verification fails.
var ErrAuthFailed = errors.New("cryptostore: authentication failed")

// maxPeerEpochs bounds how many epochs are retained per peer ssrc.
const maxPeerEpochs = 2

type senderKey struct {
	epoch uint32
	key   [KeySize]byte
}

type peerEpochKey struct {
	ssrc  uint32
	epoch uint32
}

// Store owns exactly one local (current-epoch) key and a bounded table of
// imported peer keys. It is single-writer: only the media engine calls
// GenerateLocal/ImportPeer; reads (Encrypt/Decrypt) may happen concurrently
// with those writes and are protected by mu.
type Store struct {
	logger *slog.Logger

	mu          sync.RWMutex
	local       *senderKey
	peers       map[peerEpochKey][KeySize]byte
	peerEpochs  map[uint32][]uint32 // ssrc -> epochs held, oldest first
	epochCursor uint32
}

// NewStore creates an empty key store with no local or peer keys.
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		logger:     logger.With("component", "cryptostore"),
		peers:      make(map[peerEpochKey][KeySize]byte),
		peerEpochs: make(map[uint32][]uint32),
	}
}

// GenerateLocal creates a fresh 32-byte key at a new monotonic epoch
// (starting at 1), overwriting any prior local key.
func (s *Store) GenerateLocal() error {
	var key [KeySize]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return fmt.Errorf("cryptostore: generate local key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.epochCursor++
	s.local = &senderKey{epoch: s.epochCursor, key: key}
	s.logger.Info("generated local sender key", "epoch", s.local.epoch)
	return nil
}

// ExportLocal returns the current local epoch and key bytes.
func (s *Store) ExportLocal() (epoch uint32, keyBytes []byte, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.local == nil {
		return 0, nil, errors.New("cryptostore: no local key generated")
	}
	out := make([]byte, KeySize)
	copy(out, s.local.key[:])
	return s.local.epoch, out, nil
}

// ShouldRotate reports whether sequence falls on a rotation boundary: a
// multiple of the rotation threshold, including 0 at the 16-bit wrap, so
// each local epoch covers at most threshold consecutive sequences. The
// engine calls this on every outbound audio packet and, when true, calls
// GenerateLocal and advertises the new epoch via a sender_key_update
// control message.
func (s *Store) ShouldRotate(sequence uint16) bool {
	return sequence%sequenceRotationThreshold == 0
}

// ImportPeer replaces any prior entry for (ssrc, epoch) and retains at most
// the two most recent epochs per ssrc, evicting the oldest on insert.
func (s *Store) ImportPeer(ssrc uint32, epoch uint32, keyBytes []byte) error {
	if len(keyBytes) != KeySize {
		return fmt.Errorf("cryptostore: peer key must be %d bytes, got %d", KeySize, len(keyBytes))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var key [KeySize]byte
	copy(key[:], keyBytes)
	s.peers[peerEpochKey{ssrc, epoch}] = key

	epochs := s.peerEpochs[ssrc]
	found := false
	for _, e := range epochs {
		if e == epoch {
			found = true
			break
		}
	}
	if !found {
		epochs = append(epochs, epoch)
	}
	for len(epochs) > maxPeerEpochs {
		oldest := epochs[0]
		epochs = epochs[1:]
		delete(s.peers, peerEpochKey{ssrc, oldest})
	}
	s.peerEpochs[ssrc] = epochs

	s.logger.Debug("imported peer sender key", "ssrc", ssrc, "epoch", epoch)
	return nil
}

// Encrypt seals plaintext under the current local key using a nonce
// deterministically derived from (epoch, sequence, ssrc). aad is expected
// to be the exact bytes of the packet's MediaHeader.
func (s *Store) Encrypt(aad, plaintext []byte, sequence uint16, ssrc uint32) ([]byte, error) {
	s.mu.RLock()
	local := s.local
	s.mu.RUnlock()
	if local == nil {
		return nil, errors.New("cryptostore: no local key generated")
	}

	aead, err := newAEAD(local.key)
	if err != nil {
		return nil, fmt.Errorf("cryptostore: build AEAD: %w", err)
	}
	nonce, err := deriveNonce(local.key[:], local.epoch, sequence, ssrc)
	if err != nil {
		return nil, fmt.Errorf("cryptostore: derive nonce: %w", err)
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// Decrypt opens ciphertext using the held (ssrc, epoch) peer key. It fails
// with ErrUnknownKey if no such key is held, or ErrAuthFailed if the AEAD
// tag does not verify.
func (s *Store) Decrypt(aad, ciphertext []byte, epoch uint32, sequence uint16, ssrc uint32) ([]byte, error) {
	s.mu.RLock()
	key, ok := s.peers[peerEpochKey{ssrc, epoch}]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("cryptostore: ssrc=%d epoch=%d: %w", ssrc, epoch, ErrUnknownKey)
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, fmt.Errorf("cryptostore: build AEAD: %w", err)
	}
	nonce, err := deriveNonce(key[:], epoch, sequence, ssrc)
	if err != nil {
		return nil, fmt.Errorf("cryptostore: derive nonce: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("cryptostore: ssrc=%d epoch=%d: %w", ssrc, epoch, ErrAuthFailed)
	}
	return plaintext, nil
}

func newAEAD(key [KeySize]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// deriveNonce implements the documented HKDF-based construction from
// spec §4.2: HKDF(key, "nonce" || ssrc || sequence || epoch), truncated to
// NonceSize bytes. HKDF's info parameter binds the nonce to exactly the
// tuple that must never repeat for a given key.
func deriveNonce(key []byte, epoch uint32, sequence uint16, ssrc uint32) ([]byte, error) {
	info := make([]byte, 0, 5+4+2+4)
	info = append(info, []byte("nonce")...)
	var ssrcBuf [4]byte
	binary.BigEndian.PutUint32(ssrcBuf[:], ssrc)
	info = append(info, ssrcBuf[:]...)
	var seqBuf [2]byte
	binary.BigEndian.PutUint16(seqBuf[:], sequence)
	info = append(info, seqBuf[:]...)
	var epochBuf [4]byte
	binary.BigEndian.PutUint32(epochBuf[:], epoch)
	info = append(info, epochBuf[:]...)

	reader := hkdf.New(newSHA256, key, nil, info)
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(reader, nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}
