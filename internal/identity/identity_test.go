package identity

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizlive/engine/internal/storage"
)

func TestDeviceID_StablePerScope(t *testing.T) {
	p := NewProvider(storage.NewMemStore(), storage.NewMemStore())

	id1, err := p.DeviceID(ScopeDevice)
	require.NoError(t, err)
	_, err = uuid.Parse(id1)
	require.NoError(t, err)

	id2, err := p.DeviceID(ScopeDevice)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestDeviceID_TabScopeIsDistinct(t *testing.T) {
	p := NewProvider(storage.NewMemStore(), storage.NewMemStore())

	deviceID, err := p.DeviceID(ScopeDevice)
	require.NoError(t, err)
	tabID, err := p.DeviceID(ScopeTab)
	require.NoError(t, err)

	assert.NotEqual(t, deviceID, tabID)
}

func TestDeviceID_SurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")

	fs, err := storage.OpenFileStore(path)
	require.NoError(t, err)
	first, err := NewProvider(fs, storage.NewMemStore()).DeviceID(ScopeDevice)
	require.NoError(t, err)

	reopened, err := storage.OpenFileStore(path)
	require.NoError(t, err)
	second, err := NewProvider(reopened, storage.NewMemStore()).DeviceID(ScopeDevice)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestDeviceID_UnknownScope(t *testing.T) {
	p := NewProvider(storage.NewMemStore(), storage.NewMemStore())
	_, err := p.DeviceID(Scope("window"))
	assert.Error(t, err)
}
