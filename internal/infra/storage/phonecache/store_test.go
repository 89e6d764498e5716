package phonecache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/reg-armada/internal/domain/registration"
)

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "avaiphones.txt"))

	phones, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, phones)
}

func TestFileStore_SaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "avaiphones.txt")
	s := NewFileStore(path)

	in := []registration.PhoneNumber{
		registration.NewPhoneNumber("111"),
		{Number: "222", Carrier: "cm", Region: "bj"},
	}
	require.NoError(t, s.Save(context.Background(), in))

	out, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, in, out)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileStore_LoadsLegacyStringList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "avaiphones.txt")
	require.NoError(t, os.WriteFile(path, []byte(`["111", "222"]`), 0o600))

	out, err := NewFileStore(path).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "111", out[0].Number)
	assert.Equal(t, "222", out[1].Number)
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "avaiphones.txt")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))

	_, err := NewFileStore(path).Load(context.Background())
	assert.Error(t, err)
}

func TestFileStore_SaveIntoMissingDir(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "missing", "avaiphones.txt"))
	assert.Error(t, s.Save(context.Background(), []registration.PhoneNumber{registration.NewPhoneNumber("1")}))
}

func TestMemoryStore_CopiesOnReadAndWrite(t *testing.T) {
	s := NewMemoryStore(registration.NewPhoneNumber("111"))

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	got[0].Number = "mutated"

	again, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "111", again[0].Number)
	assert.Zero(t, s.Saves())
}
