package vrf

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing"
	"go.dedis.ch/kyber/v3/sign/bls"
	"golang.org/x/crypto/hkdf"
)

// DefaultKeyVersion selects the signing key derived from the master key.
const DefaultKeyVersion = "v1"

var (
	hkdfSalt = []byte("raffle-vrf")

	// ErrInvalidProof is returned when a proof or its words fail verification.
	ErrInvalidProof = errors.New("invalid vrf proof")
)

// Signer produces BLS proofs over request seeds on the BN256 pairing.
type Signer struct {
	suite     *pairing.SuiteBn256
	private   kyber.Scalar
	public    kyber.Point
	ephemeral bool
}

// NewSigner derives the signing key from masterKey. An empty masterKey yields a random
// key that does not survive restarts.
func NewSigner(masterKey []byte, version string) (*Signer, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		version = DefaultKeyVersion
	}
	ephemeral := len(masterKey) == 0
	if ephemeral {
		masterKey = make([]byte, 32)
		if _, err := rand.Read(masterKey); err != nil {
			return nil, fmt.Errorf("generate ephemeral master key: %w", err)
		}
	}

	reader := hkdf.New(sha256.New, masterKey, hkdfSalt, []byte("vrf-signing-"+version))
	okm := make([]byte, 32)
	if _, err := io.ReadFull(reader, okm); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	suite := pairing.NewSuiteBn256()
	private, public := bls.NewKeyPair(suite, suite.XOF(okm))
	return &Signer{suite: suite, private: private, public: public, ephemeral: ephemeral}, nil
}

// Ephemeral reports whether the key was generated without a master key.
func (s *Signer) Ephemeral() bool { return s.ephemeral }

// PublicKey returns the hex encoded G2 public key.
func (s *Signer) PublicKey() (string, error) {
	buf, err := s.public.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Prove signs seed. BLS signatures are deterministic, so a seed has exactly one proof.
func (s *Signer) Prove(seed []byte) ([]byte, error) {
	return bls.Sign(s.suite, s.private, seed)
}

// ParsePublicKey decodes a hex encoded public key.
func ParsePublicKey(encoded string) (kyber.Point, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(encoded), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	point := pairing.NewSuiteBn256().G2().Point()
	if err := point.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("unmarshal public key: %w", err)
	}
	return point, nil
}

// Verify checks proof against seed and the expected words.
func Verify(public kyber.Point, seed, proof []byte, words []*big.Int) error {
	if err := bls.Verify(pairing.NewSuiteBn256(), public, seed, proof); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	expected := DeriveWords(proof, uint32(len(words)))
	for i := range words {
		if words[i] == nil || words[i].Cmp(expected[i]) != 0 {
			return fmt.Errorf("%w: word %d does not match proof", ErrInvalidProof, i)
		}
	}
	return nil
}

// DeriveWords expands proof into n 256-bit words: sha256(proof || uint32be(i)).
func DeriveWords(proof []byte, n uint32) []*big.Int {
	words := make([]*big.Int, n)
	var idx [4]byte
	for i := uint32(0); i < n; i++ {
		binary.BigEndian.PutUint32(idx[:], i)
		h := sha256.New()
		h.Write(proof)
		h.Write(idx[:])
		words[i] = new(big.Int).SetBytes(h.Sum(nil))
	}
	return words
}

// computeSeed binds a request to its key hash, id and a fresh nonce.
func computeSeed(keyHash string, id uint64, nonce []byte) []byte {
	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], id)
	h := sha256.New()
	h.Write([]byte(keyHash))
	h.Write(idBuf[:])
	h.Write(nonce)
	return h.Sum(nil)
}
