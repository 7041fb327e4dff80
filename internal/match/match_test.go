package match

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shopsmart/shopsync/internal/schema"
)

func TestIsSimilar(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"Berry", "Berries", true},
		{"Cherry", "Cherries", true},
		{"Apple", "Apples", true},
		{"Tomato", "Tomatoes", true},
		{"Bread", "Milk", false},
		{"  milk ", "MILK", true},
		{"Egg", "Eggplant", false},
		{"Candy", "Candies", true},
		{"Candy", "Cand", false},
		{"Box", "Boxs", true},
		{"Mouse", "Mice", false},
		{"Pie", "Pies", true},
		{"Bun", "Buns!", false},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSimilar(tt.a, tt.b))
			assert.Equal(t, tt.want, IsSimilar(tt.b, tt.a), "must be symmetric")
		})
	}
}

func TestIsSimilarReflexive(t *testing.T) {
	for _, s := range []string{"Milk", "berries", "  Oat Milk  ", "ß", "y"} {
		assert.True(t, IsSimilar(s, s), s)
	}
}

func TestFindSimilar(t *testing.T) {
	items := []*schema.Item{
		{ID: "1", Name: "Strawberries"},
		{ID: "2", Name: "Bread"},
		{ID: "3", Name: "strawberry"},
		nil,
	}

	got := FindSimilar("Strawberry", items)
	if assert.Len(t, got, 2) {
		assert.Equal(t, "1", got[0].ID)
		assert.Equal(t, "3", got[1].ID)
	}
	assert.Empty(t, FindSimilar("Cheese", items))
}
