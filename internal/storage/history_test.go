package storage

import (
	"errors"
	"testing"
	"time"
)

func TestStoreLifecycle(t *testing.T) {
	store, err := NewStore(t.TempDir(), "default")
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}

	uid, err := store.Create(Record{Addr: "localhost:10500"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := store.Append(uid, Record{Kind: KindSentence, Text: "hello world", Score: -512.5, Words: []WordRecord{{Word: "hello", Confidence: 0.9}, {Word: "world", Confidence: 0.7}}}); err != nil {
		t.Fatalf("Append returned error: %v", err)
	}

	records, err := store.Get(uid)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if len(records) != 1 || records[0].Text != "hello world" || len(records[0].Words) != 2 {
		t.Fatalf("records=%+v, want one sentence with two words", records)
	}
	if records[0].Timestamp == "" {
		t.Fatal("appended record has no timestamp")
	}

	list := store.List()
	if len(list) != 1 || list[0].UID != uid || list[0].Count != 1 {
		t.Fatalf("List=%+v, want one history with one record", list)
	}

	if !store.Delete(uid) {
		t.Fatal("Delete=false, want true")
	}
	if store.Delete(uid) {
		t.Fatal("second Delete=true, want false")
	}
	if _, err := store.Get(uid); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after Delete error=%v, want ErrNotFound", err)
	}
}

func TestStoreListNewestFirst(t *testing.T) {
	store, err := NewStore(t.TempDir(), "default")
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	older, _ := store.Create(Record{})
	store.now = func() time.Time { return base.Add(time.Minute) }
	newer, _ := store.Create(Record{})

	list := store.List()
	if len(list) != 2 || list[0].UID != newer || list[1].UID != older {
		t.Fatalf("List order=%v, want newer first", list)
	}
}

func TestStoreRejectsUnsafeNames(t *testing.T) {
	if _, err := NewStore(t.TempDir(), "../escape"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("NewStore error=%v, want ErrInvalidName", err)
	}
	store, err := NewStore(t.TempDir(), "default")
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}
	if _, err := store.Get("../../etc/passwd"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("Get error=%v, want ErrInvalidName", err)
	}
	if err := store.Append("a/b", Record{}); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("Append error=%v, want ErrInvalidName", err)
	}
}
