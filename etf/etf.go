// Package etf implements encrypt-to-the-future threshold encryption. A
// message is sealed under a fresh AES-GCM key whose key scalar is Shamir
// shared between n identities; each share travels in an identity based
// capsule. Once any t of the identity keys are released the message can be
// opened, fewer reveal nothing about it.
package etf

import (
	"github.com/ideal-lab5/etf-cli/crypto"
	"github.com/ideal-lab5/etf-cli/key"
)

// Encrypt seals msg to ids with threshold t under a freshly generated
// authority on the default scheme, and returns the bundle with every identity
// key already filled in.
func Encrypt(msg []byte, ids [][]byte, t int) (*Bundle, error) {
	sch := crypto.NewIdentityOnG1()
	authority, err := key.NewAuthority(sch, nil)
	if err != nil {
		return nil, &EncryptError{Kind: KindInternal, Err: err}
	}
	return New(sch).Encrypt(authority, msg, ids, t)
}

// Decrypt opens a bundle produced on the default scheme. secrets[i] must be
// the identity key of the identity capsule i was sealed to, or empty.
func Decrypt(ciphertext, nonce []byte, etfCt, secrets [][]byte) ([]byte, error) {
	return New(nil).Decrypt(ciphertext, nonce, etfCt, secrets)
}
