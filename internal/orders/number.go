package orders

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"time"
)

const (
	orderNumberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	orderNumberLength   = 10
	orderNumberPrefix   = "KM-"
	orderNumberAttempts = 5
)

// numberExistsFunc reports whether an order number is already taken.
type numberExistsFunc func(ctx context.Context, orderNumber string) (bool, error)

// generateOrderNumber produces a customer-facing order number. Collisions are
// retried a few times; if the alphabet somehow keeps colliding we fall back
// to a timestamp-derived number, which is unique enough at our write rate.
func generateOrderNumber(ctx context.Context, exists numberExistsFunc) (string, error) {
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		candidate, err := randomOrderNumber()
		if err != nil {
			return "", fmt.Errorf("generating order number: %w", err)
		}
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("checking order number: %w", err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return orderNumberPrefix + strconv.FormatInt(time.Now().UnixNano(), 36), nil
}

func randomOrderNumber() (string, error) {
	buf := make([]byte, orderNumberLength)
	max := big.NewInt(int64(len(orderNumberAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = orderNumberAlphabet[n.Int64()]
	}
	return orderNumberPrefix + string(buf), nil
}
