package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// GenerateDLEQ proves that C_ = aB_ was produced with the private key
// of A = aG without revealing a. The nonce is derived from a and B_
// so the same blinded message always yields the same proof.
func GenerateDLEQ(a *secp256k1.PrivateKey, B_, C_ *secp256k1.PublicKey) (
	*secp256k1.PrivateKey,
	*secp256k1.PrivateKey,
) {
	nonceHash := sha256.Sum256(append(a.Serialize(), B_.SerializeCompressed()...))
	var r secp256k1.ModNScalar
	r.SetByteSlice(nonceHash[:])

	// R1 = rG
	var R1 secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&r, &R1)
	R1.ToAffine()

	// R2 = rB_
	var B_Point, R2 secp256k1.JacobianPoint
	B_.AsJacobian(&B_Point)
	secp256k1.ScalarMultNonConst(&r, &B_Point, &R2)
	R2.ToAffine()

	A := a.PubKey()
	ehash := HashE([]*secp256k1.PublicKey{
		secp256k1.NewPublicKey(&R1.X, &R1.Y),
		secp256k1.NewPublicKey(&R2.X, &R2.Y),
		A,
		C_,
	})
	var e secp256k1.ModNScalar
	e.SetByteSlice(ehash[:])

	// s = r + e*a
	var s secp256k1.ModNScalar
	s.Mul2(&e, &a.Key).Add(&r)

	return secp256k1.NewPrivateKey(&e), secp256k1.NewPrivateKey(&s)
}

// VerifyDLEQ checks e == hash(R1, R2, A, C_) where
// R1 = sG - eA and R2 = sB_ - eC_.
func VerifyDLEQ(
	e *secp256k1.PrivateKey,
	s *secp256k1.PrivateKey,
	A *secp256k1.PublicKey,
	B_ *secp256k1.PublicKey,
	C_ *secp256k1.PublicKey,
) bool {
	var negE secp256k1.ModNScalar
	negE.NegateVal(&e.Key)

	var APoint, B_Point, C_Point secp256k1.JacobianPoint
	A.AsJacobian(&APoint)
	B_.AsJacobian(&B_Point)
	C_.AsJacobian(&C_Point)

	// R1 = sG - eA
	var sG, eA, R1 secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&s.Key, &sG)
	secp256k1.ScalarMultNonConst(&negE, &APoint, &eA)
	secp256k1.AddNonConst(&sG, &eA, &R1)
	R1.ToAffine()

	// R2 = sB_ - eC_
	var sB_, eC_, R2 secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&s.Key, &B_Point, &sB_)
	secp256k1.ScalarMultNonConst(&negE, &C_Point, &eC_)
	secp256k1.AddNonConst(&sB_, &eC_, &R2)
	R2.ToAffine()

	hash := HashE([]*secp256k1.PublicKey{
		secp256k1.NewPublicKey(&R1.X, &R1.Y),
		secp256k1.NewPublicKey(&R2.X, &R2.Y),
		A,
		C_,
	})

	return e.Key.Equals(scalarFromHash(hash))
}

// HashE hashes the concatenation of the hex encoded
// uncompressed public keys.
func HashE(pubkeys []*secp256k1.PublicKey) [32]byte {
	var encoded string
	for _, pk := range pubkeys {
		encoded += hex.EncodeToString(pk.SerializeUncompressed())
	}
	return sha256.Sum256([]byte(encoded))
}

func scalarFromHash(hash [32]byte) *secp256k1.ModNScalar {
	var scalar secp256k1.ModNScalar
	scalar.SetByteSlice(hash[:])
	return &scalar
}
