package service

import (
	"math/big"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/file-registry/internal/domain/model"
)

// testRecord создаёт существующую запись с отпечатком из одного байта.
func testRecord(b byte, name string) model.FileRecord {
	var f model.Fingerprint
	f[0] = b
	return model.FileRecord{
		Fingerprint: f,
		FileName:    name,
		FileSize:    big.NewInt(1024),
		ContentID:   "bafy-" + name,
		Timestamp:   1700000000,
		Exists:      true,
	}
}

// TestCacheService_GetSet проверяет базовые операции Get/Set.
func TestCacheService_GetSet(t *testing.T) {
	cache := NewCacheService(100, 5*time.Minute)
	record := testRecord(1, "test.txt")

	// Cache miss
	if _, ok := cache.Get(record.Fingerprint); ok {
		t.Fatal("ожидался cache miss для нового ключа")
	}

	// Set + cache hit
	cache.Set(record)
	got, ok := cache.Get(record.Fingerprint)
	if !ok {
		t.Fatal("ожидался cache hit после Set")
	}
	if got.FileName != "test.txt" {
		t.Errorf("FileName = %q, ожидался %q", got.FileName, "test.txt")
	}
	if got.FileSize.Cmp(big.NewInt(1024)) != 0 {
		t.Errorf("FileSize = %s, ожидался 1024", got.FileSize)
	}
}

// TestCacheService_MissingNotCached проверяет, что отсутствующие записи не кэшируются.
func TestCacheService_MissingNotCached(t *testing.T) {
	cache := NewCacheService(100, 5*time.Minute)

	missing := model.Missing()
	missing.Fingerprint[0] = 7
	cache.Set(missing)

	if cache.Len() != 0 {
		t.Fatalf("Len() = %d, ожидался 0", cache.Len())
	}
	if _, ok := cache.Get(missing.Fingerprint); ok {
		t.Error("отсутствующая запись не должна попадать в кэш")
	}
}

// TestCacheService_ReturnsCopy проверяет, что изменение результата не портит кэш.
func TestCacheService_ReturnsCopy(t *testing.T) {
	cache := NewCacheService(100, 5*time.Minute)
	record := testRecord(2, "copy.bin")
	cache.Set(record)

	// Изменение исходного значения после Set
	record.FileSize.SetInt64(1)

	got, _ := cache.Get(record.Fingerprint)
	got.FileSize.SetInt64(2)

	again, _ := cache.Get(record.Fingerprint)
	if again.FileSize.Cmp(big.NewInt(1024)) != 0 {
		t.Errorf("FileSize = %s, кэш должен хранить независимую копию", again.FileSize)
	}
}

// TestCacheService_TTLExpiration проверяет автоматическое истечение TTL.
func TestCacheService_TTLExpiration(t *testing.T) {
	// Короткий TTL = 50ms для теста
	cache := NewCacheService(100, 50*time.Millisecond)
	record := testRecord(4, "ttl-test")

	cache.Set(record)
	if _, ok := cache.Get(record.Fingerprint); !ok {
		t.Fatal("ожидался cache hit сразу после Set")
	}

	// Ждём истечения TTL
	time.Sleep(100 * time.Millisecond)

	if _, ok := cache.Get(record.Fingerprint); ok {
		t.Fatal("ожидался cache miss после истечения TTL")
	}
}

// TestCacheService_Eviction проверяет вытеснение при превышении maxSize.
func TestCacheService_Eviction(t *testing.T) {
	// Кэш на 2 записи
	cache := NewCacheService(2, 5*time.Minute)

	r1 := testRecord(11, "r1")
	r2 := testRecord(12, "r2")
	r3 := testRecord(13, "r3")

	cache.Set(r1)
	cache.Set(r2)
	cache.Set(r3)

	if cache.Len() != 2 {
		t.Errorf("Len() = %d, ожидался 2", cache.Len())
	}
	// r1 — самая давняя запись, вытесняется первой
	if _, ok := cache.Get(r1.Fingerprint); ok {
		t.Error("r1 должна быть вытеснена")
	}
	if _, ok := cache.Get(r3.Fingerprint); !ok {
		t.Fatal("ожидался cache hit для r3")
	}
}
