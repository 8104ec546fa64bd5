package oracle_test

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"synthvault/internal/oracle"
	"synthvault/internal/valuation"
)

func TestFeedLatestPrice(t *testing.T) {
	f := oracle.NewFeed()
	at := time.Now().UTC()

	f.Update("ETH-USD", big.NewInt(200_000_000_000), at)

	price, updatedAt, err := f.LatestPrice("ETH-USD")
	if err != nil {
		t.Fatalf("LatestPrice: %v", err)
	}
	if price.Cmp(big.NewInt(200_000_000_000)) != 0 {
		t.Errorf("price: got %s", price)
	}
	if !updatedAt.Equal(at) {
		t.Errorf("updatedAt: got %v, want %v", updatedAt, at)
	}
}

func TestFeedUnknownFeed(t *testing.T) {
	f := oracle.NewFeed()

	_, _, err := f.LatestPrice("ETH-USD")
	if !errors.Is(err, valuation.ErrInvalidPrice) {
		t.Errorf("got %v, want ErrInvalidPrice", err)
	}
}

func TestFeedUpdateReplaces(t *testing.T) {
	f := oracle.NewFeed()

	f.Update("ETH-USD", big.NewInt(100), time.Now())
	f.Update("ETH-USD", big.NewInt(200), time.Now())

	price, _, err := f.LatestPrice("ETH-USD")
	if err != nil {
		t.Fatalf("LatestPrice: %v", err)
	}
	if price.Cmp(big.NewInt(200)) != 0 {
		t.Errorf("price: got %s, want 200", price)
	}
}

func TestFeedStoresCopies(t *testing.T) {
	f := oracle.NewFeed()
	original := big.NewInt(100)

	f.Update("ETH-USD", original, time.Now())
	original.SetInt64(999)

	price, _, err := f.LatestPrice("ETH-USD")
	if err != nil {
		t.Fatalf("LatestPrice: %v", err)
	}
	if price.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("stored price aliases the caller's value: got %s", price)
	}

	price.SetInt64(777)
	again, _, _ := f.LatestPrice("ETH-USD")
	if again.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("returned price aliases the store: got %s", again)
	}
}
