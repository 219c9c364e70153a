package transactions

import "math/big"

// Fee breaks down what a send pays on top of the transferred amount.
// Nil components count as zero.
type Fee struct {
	TxFee        *big.Int `json:"tx_fee,omitempty"`
	PrivacyFee   *big.Int `json:"privacy_fee,omitempty"`
	TokenAccRent *big.Int `json:"token_acc_rent,omitempty"`
	ExtraFee     *big.Int `json:"extra_fee,omitempty"`
}

func add(dst *big.Int, vs ...*big.Int) *big.Int {
	for _, v := range vs {
		if v != nil {
			dst.Add(dst, v)
		}
	}
	return dst
}

// ComputationFee is the privacy fee plus the network fee. This is the fee
// passed when building a send commitment.
func (f Fee) ComputationFee() *big.Int {
	return add(new(big.Int), f.PrivacyFee, f.TxFee)
}

// TotalFee is everything the sender pays beyond the amount.
func (f Fee) TotalFee() *big.Int {
	return add(f.ComputationFee(), f.TokenAccRent, f.ExtraFee)
}

// SendAmount returns amount with the rent and extra fee folded in.
func (f Fee) SendAmount(amount *big.Int) *big.Int {
	return add(new(big.Int), amount, f.TokenAccRent, f.ExtraFee)
}
