// Package cryptox holds the one-way secret hashing used for both login
// passwords and refresh-token secrets. Encoded hashes are self-describing,
// so records written with one algorithm stay verifiable after switching.
package cryptox

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/stockauth/internal/common"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Algorithm names accepted by NewHasher.
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

// ErrUnknownAlgorithm is returned by NewHasher for unsupported names.
var ErrUnknownAlgorithm = errors.New("unknown hash algorithm")

// Hasher produces salted one-way hashes and compares candidates against them.
//
// Matches must not fail loudly: a malformed stored hash simply does not match.
type Hasher interface {
	Hash(secret []byte) (string, error)
	Matches(encoded string, secret []byte) bool
}

// NewHasher builds the hasher named by algorithm. bcryptCost is only used
// for bcrypt; zero selects bcrypt.DefaultCost.
func NewHasher(algorithm string, bcryptCost int) (Hasher, error) {
	switch strings.ToLower(algorithm) {
	case "", AlgorithmBcrypt:
		return NewBcryptHasher(bcryptCost), nil
	case AlgorithmArgon2id:
		return NewArgon2Hasher(DefaultArgon2Params()), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
}

// BcryptHasher hashes with bcrypt. Secrets longer than 72 bytes are rejected
// by bcrypt, refresh secrets are well below that.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a bcrypt hasher with the given cost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(secret []byte) (string, error) {
	b, err := bcrypt.GenerateFromPassword(secret, h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (h *BcryptHasher) Matches(encoded string, secret []byte) bool {
	if strings.HasPrefix(encoded, argon2Prefix) {
		return argon2Matches(encoded, secret)
	}
	return bcrypt.CompareHashAndPassword([]byte(encoded), secret) == nil
}

// Argon2Params tunes argon2id.
type Argon2Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen int
}

// DefaultArgon2Params suits interactive logins on a small server.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{Time: 1, Memory: 64 * 1024, Threads: 4, KeyLen: 32, SaltLen: 16}
}

const argon2Prefix = "$argon2id$"

// Argon2Hasher hashes with argon2id and encodes results in the PHC string
// format: $argon2id$v=19$m=65536,t=1,p=4$<salt>$<key>.
type Argon2Hasher struct {
	p Argon2Params
}

// NewArgon2Hasher returns an argon2id hasher.
func NewArgon2Hasher(p Argon2Params) *Argon2Hasher {
	return &Argon2Hasher{p: p}
}

func (h *Argon2Hasher) Hash(secret []byte) (string, error) {
	salt := common.GenerateRandByteArray(h.p.SaltLen)
	key := argon2.IDKey(secret, salt, h.p.Time, h.p.Memory, h.p.Threads, h.p.KeyLen)
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Prefix, argon2.Version, h.p.Memory, h.p.Time, h.p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (h *Argon2Hasher) Matches(encoded string, secret []byte) bool {
	if !strings.HasPrefix(encoded, argon2Prefix) {
		return bcrypt.CompareHashAndPassword([]byte(encoded), secret) == nil
	}
	return argon2Matches(encoded, secret)
}

func argon2Matches(encoded string, secret []byte) bool {
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}

	var p Argon2Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false
	}

	got := argon2.IDKey(secret, salt, p.Time, p.Memory, p.Threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}
