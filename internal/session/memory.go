package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// MemoryBackend はセッションをプロセス内に保存します。
// Redis と同じく JSON で保持するため、読み出した値の型は Redis と一致します。
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewMemoryBackend は MemoryBackend を作成し、interval ごとに期限切れを削除します。
// interval が 0 以下の場合は削除用ゴルーチンを起動しません。
func NewMemoryBackend(interval time.Duration) *MemoryBackend {
	b := &MemoryBackend{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if interval > 0 {
		go b.janitor(interval)
	} else {
		close(b.done)
	}
	return b
}

// Load はセッションを取得します。
func (b *MemoryBackend) Load(_ context.Context, id string) (*Record, error) {
	b.mu.Lock()
	entry, ok := b.entries[id]
	if ok && !b.now().Before(entry.expiresAt) {
		delete(b.entries, id)
		ok = false
	}
	b.mu.Unlock()

	if !ok {
		return nil, ErrNotFound
	}
	var record Record
	if err := json.Unmarshal(entry.payload, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Save はセッションを ttl 付きで保存します。
func (b *MemoryBackend) Save(_ context.Context, record *Record, ttl time.Duration) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[record.ID] = memoryEntry{payload: payload, expiresAt: b.now().Add(ttl)}
	return nil
}

// Delete はセッションを削除します。
func (b *MemoryBackend) Delete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, id)
	return nil
}

// Ping は常に成功します。
func (b *MemoryBackend) Ping(context.Context) error {
	return nil
}

// Len は保持しているセッション数を返します。
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Purge は期限切れのセッションを削除し、削除件数を返します。
func (b *MemoryBackend) Purge() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	removed := 0
	for id, entry := range b.entries {
		if !now.Before(entry.expiresAt) {
			delete(b.entries, id)
			removed++
		}
	}
	return removed
}

// Close は削除用ゴルーチンを停止します。
func (b *MemoryBackend) Close() error {
	b.once.Do(func() { close(b.stop) })
	<-b.done
	return nil
}

func (b *MemoryBackend) janitor(interval time.Duration) {
	defer close(b.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.Purge()
		}
	}
}
