package checklist_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refurbline/internal/checklist"
	"refurbline/internal/domain"
)

func TestEveryCategoryHasChecklist(t *testing.T) {
	for _, c := range domain.Categories {
		items, err := checklist.For(c)
		require.NoErrorf(t, err, "category %s", c)
		require.NotEmpty(t, items)
		for i, it := range items {
			assert.Equal(t, i+1, it.Index)
			assert.NotEmpty(t, it.Text)
		}
	}
}

func TestLaptopBatteryItem(t *testing.T) {
	it, ok := checklist.Lookup(domain.CategoryLaptop, 8)
	require.True(t, ok)
	assert.Contains(t, it.Text, "Battery health")

	_, ok = checklist.Lookup(domain.CategoryLaptop, 0)
	assert.False(t, ok)
	_, ok = checklist.Lookup(domain.Category("PRINTER"), 1)
	assert.False(t, ok)
}

func TestUnknownCategory(t *testing.T) {
	_, err := checklist.For(domain.Category("PRINTER"))
	assert.Error(t, err)
}
