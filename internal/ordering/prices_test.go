package ordering

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtogo/foodorders/internal/contracts"
)

func TestDefaultPriceBook(t *testing.T) {
	pb := DefaultPriceBook()
	assert.Equal(t, 3, pb.Len())

	p, ok := pb.TryGetPrice(contracts.SeedBurgerID)
	require.True(t, ok)
	assertMoney(t, "79.00", p, "burger")

	p, ok = pb.TryGetPrice("  33333333-3333-3333-3333-333333333333 ")
	require.True(t, ok)
	assertMoney(t, "29.00", p, "fries")

	_, ok = pb.TryGetPrice("99999999-9999-9999-9999-999999999999")
	assert.False(t, ok)
}

func TestLoadPriceBook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"AAAA": "12.50", "bbbb": 3}`), 0o600))

	pb, err := LoadPriceBook(path)
	require.NoError(t, err)
	p, ok := pb.TryGetPrice("aaaa")
	require.True(t, ok)
	assertMoney(t, "12.50", p, "aaaa")
	p, ok = pb.TryGetPrice("BBBB")
	require.True(t, ok)
	assertMoney(t, "3", p, "bbbb")
}

func TestLoadPriceBookErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadPriceBook(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"a": "-1"}`), 0o600))
	_, err = LoadPriceBook(bad)
	assert.ErrorContains(t, err, "negative")

	pb, err := LoadPriceBook("")
	require.NoError(t, err)
	assert.Equal(t, 3, pb.Len())
}
