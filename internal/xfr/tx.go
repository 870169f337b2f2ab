// tx.go - Proof generation and verification for transfer notes.
//
// Setup compiles TransferCircuit and runs the Groth16 setup. The proving key
// stays with clients that build notes; validators only need the verifying
// key, wrapped in a Groth16Verifier.

package xfr

import (
	"bytes"
	"fmt"
	"math/big"
	"os"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

// System bundles the compiled circuit with its Groth16 keys.
type System struct {
	CCS constraint.ConstraintSystem
	PK  groth16.ProvingKey
	VK  groth16.VerifyingKey
}

// Compile builds the constraint system of TransferCircuit.
func Compile() (constraint.ConstraintSystem, error) {
	var circuit TransferCircuit
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return nil, fmt.Errorf("circuit compilation failed: %w", err)
	}
	return ccs, nil
}

// Setup compiles the circuit and generates fresh keys in memory.
func Setup() (*System, error) {
	ccs, err := Compile()
	if err != nil {
		return nil, err
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("groth16 setup failed: %w", err)
	}
	return &System{CCS: ccs, PK: pk, VK: vk}, nil
}

// LoadSystem compiles the circuit and loads or creates the key files.
func LoadSystem(pkPath, vkPath string) (*System, error) {
	ccs, err := Compile()
	if err != nil {
		return nil, err
	}
	pk, vk, err := SetupOrLoadKeys(ccs, pkPath, vkPath)
	if err != nil {
		return nil, err
	}
	return &System{CCS: ccs, PK: pk, VK: vk}, nil
}

// Verifier returns a verifier bound to the system's verifying key.
func (s *System) Verifier() *Groth16Verifier {
	return NewVerifier(s.VK)
}

// Prove builds a transfer note spending inputs into outputs.
// Steps:
//  1. Check arity, openings, asset agreement and balance
//  2. Build the full witness
//  3. Generate and serialize the Groth16 proof
func (s *System) Prove(inputs, outputs []Opened) (*Note, error) {
	// Step 1: reject what the circuit would reject, with a useful error
	if len(inputs) > Arity || len(outputs) > Arity {
		return nil, fmt.Errorf("%w: %d inputs, %d outputs, arity %d", ErrTooManyRecords, len(inputs), len(outputs), Arity)
	}
	var asset *AssetType
	var inSum, outSum big.Int
	for _, set := range []struct {
		records []Opened
		sum     *big.Int
	}{{inputs, &inSum}, {outputs, &outSum}} {
		for _, o := range set.records {
			if err := o.Check(); err != nil {
				return nil, err
			}
			if asset == nil {
				a := o.Opening.Asset
				asset = &a
			} else if *asset != o.Opening.Asset {
				return nil, ErrMixedAssets
			}
			set.sum.Add(set.sum, new(big.Int).SetUint64(o.Opening.Amount))
		}
	}
	if inSum.Cmp(&outSum) != 0 {
		return nil, fmt.Errorf("%w: %s in, %s out", ErrUnbalanced, inSum.String(), outSum.String())
	}

	// Step 2: witness
	assignment := &TransferCircuit{Asset: 0}
	if asset != nil {
		e := assetElement(*asset)
		assignment.Asset = e.BigInt(new(big.Int))
	}
	fillSlots(assignment.InCm[:], assignment.InUsed[:], assignment.InAmount[:], assignment.InBlind[:], inputs)
	fillSlots(assignment.OutCm[:], assignment.OutUsed[:], assignment.OutAmount[:], assignment.OutBlind[:], outputs)
	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("witness creation failed: %w", err)
	}

	// Step 3: prove
	proof, err := groth16.Prove(s.CCS, s.PK, w)
	if err != nil {
		return nil, fmt.Errorf("proof generation failed: %w", err)
	}
	var proofBuf bytes.Buffer
	if _, err := proof.WriteTo(&proofBuf); err != nil {
		return nil, fmt.Errorf("proof marshaling failed: %w", err)
	}

	note := &Note{Proof: proofBuf.Bytes()}
	for _, o := range inputs {
		note.Inputs = append(note.Inputs, o.Record)
	}
	for _, o := range outputs {
		note.Outputs = append(note.Outputs, o.Record)
	}
	return note, nil
}

func fillSlots(cm, used, amount, blind []frontend.Variable, records []Opened) {
	for i := range cm {
		if i < len(records) {
			o := records[i]
			cm[i] = new(big.Int).SetBytes(o.Record.Commitment[:])
			used[i] = 1
			amount[i] = new(big.Int).SetUint64(o.Opening.Amount)
			blind[i] = o.Opening.Blind.BigInt(new(big.Int))
			continue
		}
		cm[i], used[i], amount[i], blind[i] = 0, 0, 0, 0
	}
}

// Groth16Verifier checks notes against a verifying key.
type Groth16Verifier struct {
	vk groth16.VerifyingKey
}

func NewVerifier(vk groth16.VerifyingKey) *Groth16Verifier {
	return &Groth16Verifier{vk: vk}
}

// Verify checks the note's proof against its declared records.
// Steps:
//  1. Refuse tracing policies and oversized notes
//  2. Rebuild the public witness from the records
//  3. Unmarshal and verify the Groth16 proof
func (v *Groth16Verifier) Verify(note *Note, policies Policies) error {
	// Step 1
	if len(policies) > 0 {
		return ErrPolicyNotEnforced
	}
	if note == nil {
		return fmt.Errorf("%w: nil note", ErrProofInvalid)
	}
	if len(note.Inputs) > Arity || len(note.Outputs) > Arity {
		return fmt.Errorf("%w: %d inputs, %d outputs, arity %d", ErrTooManyRecords, len(note.Inputs), len(note.Outputs), Arity)
	}

	// Step 2: public witness
	public := &TransferCircuit{}
	if err := publicSlots(public.InCm[:], public.InUsed[:], note.Inputs); err != nil {
		return err
	}
	if err := publicSlots(public.OutCm[:], public.OutUsed[:], note.Outputs); err != nil {
		return err
	}
	w, err := frontend.NewWitness(public, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("public witness creation failed: %w", err)
	}

	// Step 3
	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(note.Proof)); err != nil {
		return fmt.Errorf("%w: proof unmarshaling failed: %v", ErrProofInvalid, err)
	}
	if err := groth16.Verify(proof, v.vk, w); err != nil {
		return fmt.Errorf("%w: %v", ErrProofInvalid, err)
	}
	return nil
}

func publicSlots(cm, used []frontend.Variable, records []Record) error {
	for i := range cm {
		if i < len(records) {
			val, err := records[i].Commitment.fieldValue()
			if err != nil {
				return err
			}
			cm[i], used[i] = val, 1
			continue
		}
		cm[i], used[i] = 0, 0
	}
	return nil
}

// SaveProvingKey saves a Groth16 proving key to disk.
func SaveProvingKey(path string, pk groth16.ProvingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = pk.WriteTo(f)
	return err
}

// SaveVerifyingKey saves a Groth16 verifying key to disk.
func SaveVerifyingKey(path string, vk groth16.VerifyingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = vk.WriteTo(f)
	return err
}

// LoadProvingKey loads a Groth16 proving key from disk.
func LoadProvingKey(path string) (groth16.ProvingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pk := groth16.NewProvingKey(ecc.BN254)
	_, err = pk.ReadFrom(f)
	return pk, err
}

// LoadVerifyingKey loads a Groth16 verifying key from disk.
func LoadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vk := groth16.NewVerifyingKey(ecc.BN254)
	_, err = vk.ReadFrom(f)
	return vk, err
}

// SetupOrLoadKeys generates or loads Groth16 keys for the circuit.
// If keys exist on disk, loads them; otherwise, generates and saves new keys.
func SetupOrLoadKeys(ccs constraint.ConstraintSystem, pkPath, vkPath string) (groth16.ProvingKey, groth16.VerifyingKey, error) {
	pk, pkErr := LoadProvingKey(pkPath)
	vk, vkErr := LoadVerifyingKey(vkPath)
	if pkErr == nil && vkErr == nil {
		return pk, vk, nil
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, nil, err
	}
	if err := SaveProvingKey(pkPath, pk); err != nil {
		return nil, nil, err
	}
	if err := SaveVerifyingKey(vkPath, vk); err != nil {
		return nil, nil, err
	}
	return pk, vk, nil
}
