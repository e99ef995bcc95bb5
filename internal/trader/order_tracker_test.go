package trader

import (
	"testing"

	"cryptotrader/pkg/types"
)

func TestPendingPositionSignedSum(t *testing.T) {
	t.Parallel()
	ot := NewOrderTracker()
	ot.Add(types.PendingOrder{ClientID: "c1", Side: types.Buy, Volume: dec("0.01"), Price: dec("100")})
	ot.Add(types.PendingOrder{ClientID: "c2", Side: types.Sell, Volume: dec("0.004"), Price: dec("110")})

	position, cost := ot.PendingPosition()
	wantPosition := dec("0.006")
	if !position.Equal(wantPosition) {
		t.Errorf("position = %v, want %v", position, wantPosition)
	}
	wantCost := dec("0.01").Mul(dec("100")).Sub(dec("0.004").Mul(dec("110")))
	if !cost.Equal(wantCost) {
		t.Errorf("cost = %v, want %v", cost, wantCost)
	}
}

func TestRemoveOrder(t *testing.T) {
	t.Parallel()
	ot := NewOrderTracker()
	ot.Add(types.PendingOrder{ClientID: "c1", Side: types.Buy, Volume: dec("1"), Price: dec("1")})
	ot.Remove("c1")
	if ot.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after remove", ot.Len())
	}
	if _, ok := ot.Get("c1"); ok {
		t.Error("Get() found removed order")
	}
}
