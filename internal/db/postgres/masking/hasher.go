// Copyright 2025 Greenmask
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package masking

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

const (
	HasherPBKDF2SHA256 = "pbkdf2_sha256"
	HasherBcrypt       = "bcrypt"

	DefaultPBKDF2Iterations = 720000
	// DefaultSalt - fixed salt so that every run produces the same credential hash
	DefaultSalt = "pgmaskdumpfixedsalt000"

	pbkdf2KeyLen = sha256.Size
)

type Hasher interface {
	Hash(password string) (string, error)
	Name() string
}

// NewHasher - builds the hasher by name. Empty name means pbkdf2_sha256. For bcrypt iterations is the cost.
func NewHasher(name, salt string, iterations int) (Hasher, error) {
	switch name {
	case "", HasherPBKDF2SHA256:
		if salt == "" {
			salt = DefaultSalt
		}
		if strings.Contains(salt, "$") {
			return nil, fmt.Errorf("salt must not contain \"$\"")
		}
		if iterations <= 0 {
			iterations = DefaultPBKDF2Iterations
		}
		return &PBKDF2SHA256Hasher{Salt: salt, Iterations: iterations}, nil
	case HasherBcrypt:
		cost := iterations
		if cost == 0 {
			cost = bcrypt.DefaultCost
		}
		if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
			return nil, fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
		}
		return &BcryptHasher{Cost: cost}, nil
	}
	return nil, fmt.Errorf("unknown hasher \"%s\"", name)
}

// PBKDF2SHA256Hasher - produces hashes in the Django password format pbkdf2_sha256$<iterations>$<salt>$<hash>
type PBKDF2SHA256Hasher struct {
	Salt       string
	Iterations int
}

func (h *PBKDF2SHA256Hasher) Name() string {
	return HasherPBKDF2SHA256
}

func (h *PBKDF2SHA256Hasher) Hash(password string) (string, error) {
	dk := pbkdf2.Key([]byte(password), []byte(h.Salt), h.Iterations, pbkdf2KeyLen, sha256.New)
	return fmt.Sprintf(
		"%s$%d$%s$%s", HasherPBKDF2SHA256, h.Iterations, h.Salt, base64.StdEncoding.EncodeToString(dk),
	), nil
}

// BcryptHasher - the salt is random, the hash is computed once per run
type BcryptHasher struct {
	Cost int
}

func (h *BcryptHasher) Name() string {
	return HasherBcrypt
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	res, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	if err != nil {
		return "", fmt.Errorf("cannot generate bcrypt hash: %w", err)
	}
	return string(res), nil
}
