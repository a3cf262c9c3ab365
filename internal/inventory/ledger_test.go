package inventory_test

import (
	"errors"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/vendorhub/fulfillment-service/internal/inventory"
)

func TestInsufficientStockError(t *testing.T) {
	p1, _ := uuid.NewV4()
	p2, _ := uuid.NewV4()

	err := &inventory.InsufficientStockError{Shortages: []inventory.Shortage{
		{ProductID: p1, Requested: 3, Available: 1},
		{ProductID: p2, Requested: 2, Available: 0},
	}}

	assert.True(t, errors.Is(err, inventory.ErrInsufficientStock))
	assert.Contains(t, err.Error(), p1.String())
	assert.Contains(t, err.Error(), p2.String())
	assert.Contains(t, err.Error(), "requested 3, available 1")
}

func TestParseAdjustMode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    inventory.AdjustMode
		wantErr bool
	}{
		{name: "add", input: "add", want: inventory.AdjustAdd},
		{name: "subtract", input: "subtract", want: inventory.AdjustSubtract},
		{name: "set", input: "set", want: inventory.AdjustSet},
		{name: "unknown", input: "increment", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := inventory.ParseAdjustMode(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
