// internal/settings/store_test.go
package settings

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	store := NewStore(path)
	require.NoError(t, store.Init())
	return store, path
}

// TestSetAndGet 基本的读写与默认值
func TestSetAndGet(t *testing.T) {
	store, _ := newTestStore(t)

	assert.False(t, store.GetBool(42, "translation", false))
	assert.Equal(t, "flash", store.GetString(42, "transcriber_model", "flash"))

	require.NoError(t, store.Set(42, "translation", true))
	require.NoError(t, store.Set(42, "transcriber_model", "pro"))

	assert.True(t, store.GetBool(42, "translation", false))
	assert.Equal(t, "pro", store.GetString(42, "transcriber_model", "flash"))

	// 其他调用者不受影响
	assert.False(t, store.GetBool(7, "translation", false))
}

// TestPersistenceAcrossInstances 写入后新实例能读回
func TestPersistenceAcrossInstances(t *testing.T) {
	store, path := newTestStore(t)

	require.NoError(t, store.Set(42, "editor_model", "flash"))
	require.NoError(t, store.Set(-100200, "translation", true))

	reopened := NewStore(path)
	require.NoError(t, reopened.Init())

	assert.Equal(t, "flash", reopened.GetString(42, "editor_model", "pro"))
	assert.True(t, reopened.GetBool(-100200, "translation", false))
}

// TestCorruptFileQuarantined 损坏的文件被备份为.bak并重置
func TestCorruptFileQuarantined(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{损坏的json"), 0644))

	store := NewStore(path)
	require.NoError(t, store.Init())

	// 从空状态开始
	assert.Empty(t, store.GetAll())

	// 原文件已备份
	_, err := os.Stat(path + ".bak")
	assert.NoError(t, err)

	// 仍可正常写入
	require.NoError(t, store.Set(1, "translation", true))
	assert.True(t, store.GetBool(1, "translation", false))
}

// TestConcurrentSets 并发写入不丢数据也不损坏文件
func TestConcurrentSets(t *testing.T) {
	store, path := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_ = store.Set(id, "translation", true)
		}(int64(i))
	}
	wg.Wait()

	reopened := NewStore(path)
	require.NoError(t, reopened.Init())
	assert.Len(t, reopened.GetAll(), 20)
}

// TestGetAllForReturnsCopy 返回的映射是防御性副本
func TestGetAllForReturnsCopy(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Set(42, "translation", true))

	snapshot := store.GetAllFor(42)
	snapshot["translation"] = false
	snapshot["injected"] = "x"

	assert.True(t, store.GetBool(42, "translation", false))
	assert.Equal(t, "none", store.GetString(42, "injected", "none"))
}

// TestNoTempFileLeftovers 保存后目录里不残留临时文件
func TestNoTempFileLeftovers(t *testing.T) {
	store, path := newTestStore(t)
	require.NoError(t, store.Set(1, "k", "v"))
	require.NoError(t, store.Set(2, "k", "v"))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "不应残留临时文件: %s", e.Name())
	}
}

// TestMissingFileStartsEmpty 文件不存在时从空状态启动
func TestMissingFileStartsEmpty(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "sub", "settings.json"))
	require.NoError(t, store.Init())
	assert.Empty(t, store.GetAll())
}
