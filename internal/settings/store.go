// internal/settings/store.go
package settings

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Store 持久化每个调用者的偏好设置（键值对）。
//
// 内存中维护 callerID -> key -> value 的映射，镜像到单个JSON文件。
// 每次写入都做完整的原子重写：先写同目录临时文件，再原子rename覆盖。
// 所有访问由同一把互斥锁串行化，并发调用者不会观察到半写状态，
// 读也不会与写交错。
//
// Store 是显式构造的实例，自带锁与文件路径，不使用包级全局状态。
type Store struct {
	mu   sync.Mutex
	path string
	data map[int64]map[string]any
}

// NewStore 创建指向指定文件的设置存储（调用Init前不可用）
func NewStore(path string) *Store {
	return &Store{
		path: path,
		data: make(map[int64]map[string]any),
	}
}

// Init 加载已有的设置文件。文件不存在时从空状态开始；
// 文件损坏（JSON解析失败）时将其改名备份为 .bak 并重置，不中止启动。
func (s *Store) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("创建设置目录失败: %w", err)
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.data = make(map[int64]map[string]any)
			log.Printf("设置文件不存在，从空状态启动: %s", s.path)
			return nil
		}
		return fmt.Errorf("读取设置文件失败: %w", err)
	}

	// JSON对象键只能是字符串，载入时转回int64
	var decoded map[string]map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		s.quarantineCorrupt(err)
		s.data = make(map[int64]map[string]any)
		return nil
	}

	data := make(map[int64]map[string]any, len(decoded))
	for key, prefs := range decoded {
		callerID, convErr := strconv.ParseInt(key, 10, 64)
		if convErr != nil {
			s.quarantineCorrupt(fmt.Errorf("非法的调用者键 %q", key))
			s.data = make(map[int64]map[string]any)
			return nil
		}
		data[callerID] = prefs
	}

	s.data = data
	log.Printf("已从 %s 加载 %d 个调用者的设置", s.path, len(s.data))
	return nil
}

// quarantineCorrupt 把损坏的设置文件改名备份，失败时仅记录日志
func (s *Store) quarantineCorrupt(cause error) {
	backup := s.path + ".bak"
	if err := os.Rename(s.path, backup); err != nil {
		log.Printf("备份损坏的设置文件失败: %v (原因: %v)", err, cause)
		return
	}
	log.Printf("设置文件损坏，已备份到 %s: %v", backup, cause)
}

// Get 返回指定调用者的某项设置，不存在时返回默认值
func (s *Store) Get(callerID int64, key string, def any) any {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefs, ok := s.data[callerID]
	if !ok {
		return def
	}
	value, ok := prefs[key]
	if !ok {
		return def
	}
	return value
}

// GetString 读取字符串设置
func (s *Store) GetString(callerID int64, key, def string) string {
	if v, ok := s.Get(callerID, key, def).(string); ok {
		return v
	}
	return def
}

// GetBool 读取布尔设置
func (s *Store) GetBool(callerID int64, key string, def bool) bool {
	if v, ok := s.Get(callerID, key, def).(bool); ok {
		return v
	}
	return def
}

// GetAllFor 返回某个调用者全部设置的防御性副本，
// 调用方改动返回值不会影响内部状态
func (s *Store) GetAllFor(callerID int64) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]any, len(s.data[callerID]))
	for k, v := range s.data[callerID] {
		out[k] = v
	}
	return out
}

// GetAll 返回全部设置的深拷贝快照
func (s *Store) GetAll() map[int64]map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int64]map[string]any, len(s.data))
	for callerID, prefs := range s.data {
		cp := make(map[string]any, len(prefs))
		for k, v := range prefs {
			cp[k] = v
		}
		out[callerID] = cp
	}
	return out
}

// Set 更新内存状态并立即做原子持久化。
// 持久化失败时内存改动保留，错误返回给调用方；
// 磁盘上的旧文件保持完好，临时文件被丢弃。
func (s *Store) Set(callerID int64, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefs, ok := s.data[callerID]
	if !ok {
		prefs = make(map[string]any)
		s.data[callerID] = prefs
	}
	prefs[key] = value

	return s.saveLocked()
}

// saveLocked 把整个映射序列化到同目录临时文件后原子rename。
// 调用方必须已持有s.mu。
func (s *Store) saveLocked() error {
	encoded := make(map[string]map[string]any, len(s.data))
	for callerID, prefs := range s.data {
		encoded[strconv.FormatInt(callerID, 10)] = prefs
	}

	content, err := json.MarshalIndent(encoded, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化设置失败: %w", err)
	}

	// 临时文件必须与目标同目录，保证rename在同一文件系统上原子完成
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings_*.tmp")
	if err != nil {
		return fmt.Errorf("创建临时设置文件失败: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("写入临时设置文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("关闭临时设置文件失败: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("保存设置文件失败: %w", err)
	}

	return nil
}
