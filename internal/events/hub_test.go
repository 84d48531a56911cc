package events

import (
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/bigkaa/goartstore/file-registry/internal/domain/model"
)

// testLogger создаёт логгер для тестов (вывод только ошибок).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func event(seq uint64) model.Event {
	return model.Event{Seq: seq, Kind: model.EventFileUploaded, FileName: "f"}
}

func TestHub_PublishDelivers(t *testing.T) {
	hub := NewHub(10, 8, testLogger())

	s1, err := hub.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	s2, err := hub.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	hub.Publish(event(1))
	hub.Publish(event(2))

	for _, sub := range []*Subscription{s1, s2} {
		for want := uint64(1); want <= 2; want++ {
			ev := <-sub.C
			if ev.Seq != want {
				t.Errorf("Seq = %d, ожидался %d", ev.Seq, want)
			}
		}
	}
}

func TestHub_MaxClients(t *testing.T) {
	hub := NewHub(2, 1, testLogger())

	s1, err := hub.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := hub.Subscribe(); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := hub.Subscribe(); !errors.Is(err, ErrHubFull) {
		t.Fatalf("ожидалась ErrHubFull, получено: %v", err)
	}

	// Освобождённое место доступно снова
	s1.Close()
	s1.Close()
	if _, err := hub.Subscribe(); err != nil {
		t.Errorf("Subscribe после Close: %v", err)
	}
	if hub.Len() != 2 {
		t.Errorf("Len() = %d, ожидалось 2", hub.Len())
	}
}

func TestHub_SlowSubscriberDropped(t *testing.T) {
	hub := NewHub(10, 2, testLogger())

	slow, err := hub.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	fast, err := hub.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Быстрый подписчик разбирает буфер после каждой публикации
	var received []uint64
	for seq := uint64(1); seq <= 5; seq++ {
		hub.Publish(event(seq))
		ev := <-fast.C
		received = append(received, ev.Seq)
	}

	if !slow.Dropped() {
		t.Fatal("медленный подписчик должен быть отключён")
	}
	// Канал отключённого подписчика закрыт после буферизованных событий
	count := 0
	for range slow.C {
		count++
	}
	if count != 2 {
		t.Errorf("медленный подписчик получил %d событий, ожидалось 2", count)
	}
	if len(received) != 5 || received[4] != 5 {
		t.Errorf("быстрый подписчик получил %v, ожидалось 5 событий", received)
	}
	if fast.Dropped() {
		t.Error("быстрый подписчик не должен отключаться")
	}
	if hub.Len() != 1 {
		t.Errorf("Len() = %d, ожидалось 1", hub.Len())
	}
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(10, 1, testLogger())

	sub, err := hub.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	hub.Close()

	if _, ok := <-sub.C; ok {
		t.Error("канал подписки должен быть закрыт")
	}
	if _, err := hub.Subscribe(); !errors.Is(err, ErrHubClosed) {
		t.Errorf("ожидалась ErrHubClosed, получено: %v", err)
	}
	// Публикация после остановки не паникует
	hub.Publish(event(1))
}
