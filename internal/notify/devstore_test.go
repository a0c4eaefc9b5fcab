package notify

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestDevStore_SendThenGet(t *testing.T) {
	store := NewDevStore(5 * time.Minute)
	ctx := context.Background()

	_ = store.SendOTP(ctx, "9876543210", "0421")
	code, ok := store.Get(ctx, "9876543210")
	if !ok || code != "0421" {
		t.Fatalf("Get = %q, %v; want 0421, true", code, ok)
	}
}

func TestDevStore_LatestCodeWins(t *testing.T) {
	store := NewDevStore(5 * time.Minute)
	ctx := context.Background()

	_ = store.SendOTP(ctx, "9876543210", "1111")
	_ = store.SendOTP(ctx, "9876543210", "2222")
	if code, _ := store.Get(ctx, "9876543210"); code != "2222" {
		t.Errorf("code = %q, want 2222", code)
	}
}

func TestDevStore_Missing(t *testing.T) {
	store := NewDevStore(time.Minute)
	if code, ok := store.Get(context.Background(), "0000000000"); ok || code != "" {
		t.Errorf("Get = %q, %v; want empty, false", code, ok)
	}
}

func TestDevStore_Expired(t *testing.T) {
	store := NewDevStore(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.nowF = func() time.Time { return now }
	ctx := context.Background()

	_ = store.SendOTP(ctx, "9876543210", "1234")
	now = now.Add(2 * time.Minute)
	if _, ok := store.Get(ctx, "9876543210"); ok {
		t.Error("Get should return false after ttl")
	}
	now = now.Add(-2 * time.Minute)
	if _, ok := store.Get(ctx, "9876543210"); ok {
		t.Error("expired entry should have been removed")
	}
}

func TestDevStore_ConcurrentAccess(t *testing.T) {
	store := NewDevStore(time.Minute)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		phone := "98765432" + string(rune('0'+i)) + "0"
		go func() {
			defer wg.Done()
			_ = store.SendOTP(ctx, phone, "1234")
		}()
		go func() {
			defer wg.Done()
			store.Get(ctx, phone)
		}()
	}
	wg.Wait()
}

func TestMaskPhone(t *testing.T) {
	if got := MaskPhone("9876543210"); got != "********10" {
		t.Errorf("MaskPhone = %q", got)
	}
	if got := MaskPhone("1"); got != "1" {
		t.Errorf("MaskPhone short = %q", got)
	}
}
