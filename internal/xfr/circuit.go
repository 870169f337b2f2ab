package xfr

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// TransferCircuit proves that the used input slots and the used output slots
// open to the same asset type and carry equal total amounts.
type TransferCircuit struct {
	// Public inputs
	InCm    [Arity]frontend.Variable `gnark:",public"`
	InUsed  [Arity]frontend.Variable `gnark:",public"`
	OutCm   [Arity]frontend.Variable `gnark:",public"`
	OutUsed [Arity]frontend.Variable `gnark:",public"`

	// Private inputs
	Asset     frontend.Variable
	InAmount  [Arity]frontend.Variable
	InBlind   [Arity]frontend.Variable
	OutAmount [Arity]frontend.Variable
	OutBlind  [Arity]frontend.Variable
}

func (c *TransferCircuit) Define(api frontend.API) error {
	// Step 1: open every used input and sum the amounts
	inSum := frontend.Variable(0)
	for i := 0; i < Arity; i++ {
		if err := openSlot(api, c.InCm[i], c.InUsed[i], c.InAmount[i], c.Asset, c.InBlind[i]); err != nil {
			return err
		}
		inSum = api.Add(inSum, c.InAmount[i])
	}

	// Step 2: same for the outputs
	outSum := frontend.Variable(0)
	for i := 0; i < Arity; i++ {
		if err := openSlot(api, c.OutCm[i], c.OutUsed[i], c.OutAmount[i], c.Asset, c.OutBlind[i]); err != nil {
			return err
		}
		outSum = api.Add(outSum, c.OutAmount[i])
	}

	// Step 3: value conservation
	api.AssertIsEqual(inSum, outSum)
	return nil
}

// openSlot constrains one record slot. A used slot must open its commitment;
// an unused slot must carry a zero amount.
func openSlot(api frontend.API, cm, used, amount, asset, blind frontend.Variable) error {
	api.AssertIsBoolean(used)
	api.ToBinary(amount, 64)

	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	hasher.Write(amount, asset, blind)
	computed := hasher.Sum()

	api.AssertIsEqual(api.Mul(used, api.Sub(cm, computed)), 0)
	api.AssertIsEqual(api.Mul(api.Sub(1, used), amount), 0)
	return nil
}
