// Package xfr implements confidential asset transfers for the ledger.
//
// Overview:
//   - An asset record publishes only a MiMC commitment to (amount, asset type,
//     blinding) and the owner's public key
//   - A transfer note lists the input and output records it spends and creates,
//     plus a Groth16 proof that the hidden amounts balance and every record
//     opens to the same asset type
//   - The ledger treats Verifier as an opaque oracle: it never sees amounts
//
// Proof system:
//   - Circuit and commitments live on BN254 (gnark, gnark-crypto)
//   - A note carries at most Arity inputs and Arity outputs; unused circuit
//     slots are switched off by public flags
//   - Amounts are range checked to 64 bits so sums cannot wrap the field
//
// Usage:
//   - Setup or SetupOrLoadKeys once per deployment, share the verifying key
//   - Clients build records with NewRecord and notes with System.Prove
//   - Validators call Verifier.Verify
package xfr
