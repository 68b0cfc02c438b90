package clients

import (
	"github.com/shopspring/decimal"
	"github.com/vitwit/a402/types"
	"github.com/vitwit/a402/utils"
)

// balanceDelta is the net change of one owner's balance in one asset.
type balanceDelta struct {
	owner  string
	amount decimal.Decimal
}

// deltas accumulates balance changes per owner, keeping first-seen order.
type deltas struct {
	network types.Network
	items   []balanceDelta
}

func (d *deltas) add(owner string, amount decimal.Decimal) {
	for i := range d.items {
		if utils.SameAddress(d.network, d.items[i].owner, owner) {
			d.items[i].amount = d.items[i].amount.Add(amount)
			return
		}
	}
	d.items = append(d.items, balanceDelta{owner: owner, amount: amount})
}

// credit picks the recipient of a transfer: the expected recipient when it
// was credited, otherwise the largest credit to anyone but exclude.
func (d *deltas) credit(expected, exclude string) (balanceDelta, bool) {
	var (
		best  balanceDelta
		found bool
	)

	for _, it := range d.items {
		if !it.amount.IsPositive() {
			continue
		}
		if expected != "" && utils.SameAddress(d.network, it.owner, expected) {
			return it, true
		}
		if exclude != "" && utils.SameAddress(d.network, it.owner, exclude) {
			continue
		}
		if !found || it.amount.GreaterThan(best.amount) {
			best, found = it, true
		}
	}
	return best, found
}

// debit picks the sender: the expected sender when debited, otherwise the
// largest debit.
func (d *deltas) debit(expected string) (balanceDelta, bool) {
	var (
		best  balanceDelta
		found bool
	)

	for _, it := range d.items {
		if !it.amount.IsNegative() {
			continue
		}
		if expected != "" && utils.SameAddress(d.network, it.owner, expected) {
			return it, true
		}
		if !found || it.amount.LessThan(best.amount) {
			best, found = it, true
		}
	}
	return best, found
}
