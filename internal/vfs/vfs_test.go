package vfs

import (
	"errors"
	"testing"

	"github.com/vc-agent/core/internal/eventbus"
)

func newTestMemVFS() VFS {
	return NewMemory(Config{Base: "/base"})
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	v := newTestMemVFS()
	if _, err := v.Write("notes/todo.md", []byte("buy milk"), "alice"); err != nil {
		t.Fatalf("write: %v", err)
	}
	content, ok, err := v.Read("notes/todo.md")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !ok {
		t.Fatal("expected file to exist")
	}
	if string(content) != "buy milk" {
		t.Fatalf("got %q", content)
	}
}

func TestReadMissingFileReturnsFalse(t *testing.T) {
	v := newTestMemVFS()
	_, ok, err := v.Read("nope.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing file")
	}
}

func TestWriteChainsPreviousVersion(t *testing.T) {
	v := newTestMemVFS()
	first, err := v.Write("a.txt", []byte("one"), "alice")
	if err != nil {
		t.Fatalf("first write: %v", err)
	}
	second, err := v.Write("a.txt", []byte("two"), "alice")
	if err != nil {
		t.Fatalf("second write: %v", err)
	}
	if second.PreviousID != first.ID {
		t.Fatalf("expected second.PreviousID == first.ID, got %q vs %q", second.PreviousID, first.ID)
	}
}

func TestWriteRejectsOversizedContent(t *testing.T) {
	v := NewMemory(Config{Base: "/base", MaxFileSize: 4})
	_, err := v.Write("big.txt", []byte("way too big"), "alice")
	if err == nil {
		t.Fatal("expected size error")
	}
	var sizeErr *SizeError
	if !errors.As(err, &sizeErr) {
		t.Fatalf("expected *SizeError, got %T: %v", err, err)
	}
}

func TestWriteRejectsPathTraversal(t *testing.T) {
	v := newTestMemVFS()
	_, err := v.Write("../escape.txt", []byte("x"), "alice")
	if !errors.Is(err, ErrPathTraversal) {
		t.Fatalf("expected ErrPathTraversal, got %v", err)
	}
}

func TestDeleteRemovesFile(t *testing.T) {
	v := newTestMemVFS()
	if _, err := v.Write("gone.txt", []byte("x"), "alice"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := v.Delete("gone.txt", "alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, ok, err := v.Read("gone.txt")
	if err != nil {
		t.Fatalf("read after delete: %v", err)
	}
	if ok {
		t.Fatal("expected file to be gone")
	}
}

func TestListReturnsCurrentPaths(t *testing.T) {
	v := newTestMemVFS()
	if _, err := v.Write("a.txt", []byte("a"), "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Write("b.txt", []byte("b"), "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Delete("a.txt", "alice"); err != nil {
		t.Fatal(err)
	}
	paths, err := v.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(paths) != 1 || paths[0] != "b.txt" {
		t.Fatalf("expected [b.txt], got %v", paths)
	}
}

func TestSnapshotIsIndependentOfLaterMutation(t *testing.T) {
	v := newTestMemVFS()
	if _, err := v.Write("a.txt", []byte("original"), "alice"); err != nil {
		t.Fatal(err)
	}
	snapID, err := v.Snapshot("alice")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if _, err := v.Write("a.txt", []byte("mutated"), "alice"); err != nil {
		t.Fatal(err)
	}

	snap, ok, err := v.GetSnapshot(snapID)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if !ok {
		t.Fatal("expected snapshot to exist")
	}
	if string(snap.Files["a.txt"]) != "original" {
		t.Fatalf("snapshot mutated, got %q", snap.Files["a.txt"])
	}

	current, _, err := v.Read("a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(current) != "mutated" {
		t.Fatalf("expected live content to reflect mutation, got %q", current)
	}
}

func TestDiffIdenticalAndDifferent(t *testing.T) {
	v := newTestMemVFS()
	v1, err := v.Write("a.txt", []byte("same"), "alice")
	if err != nil {
		t.Fatal(err)
	}
	v2, err := v.Write("a.txt", []byte("same"), "alice")
	if err != nil {
		t.Fatal(err)
	}
	v3, err := v.Write("a.txt", []byte("different"), "alice")
	if err != nil {
		t.Fatal(err)
	}

	d, err := v.Diff(v1.ID, v2.ID)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if !d.Identical {
		t.Fatal("expected identical content to diff as identical")
	}

	d2, err := v.Diff(v1.ID, v3.ID)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if d2.Identical {
		t.Fatal("expected different content to diff as not identical")
	}
}

func TestDiffUnknownVersionErrors(t *testing.T) {
	v := newTestMemVFS()
	if _, err := v.Diff("nope", "alsonope"); err == nil {
		t.Fatal("expected error for unknown version ids")
	}
}

func TestWriteEmitsVFSChangeEvent(t *testing.T) {
	bus := eventbus.New(eventbus.DefaultConfig())
	v := NewMemory(Config{Base: "/base", Bus: bus})

	received := make(chan eventbus.Event, 1)
	bus.On(eventbus.KindVFSChange, func(ev eventbus.Event) {
		received <- ev
	})

	if _, err := v.Write("a.txt", []byte("x"), "alice"); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-received:
		payload, ok := ev.Payload.(ChangePayload)
		if !ok {
			t.Fatalf("unexpected payload type %T", ev.Payload)
		}
		if payload.Path != "a.txt" || payload.Operation != "write" {
			t.Fatalf("unexpected payload %+v", payload)
		}
	default:
		t.Fatal("expected a VFSChange event to have been emitted")
	}
}

func TestDeleteOfMissingFileDoesNotEmit(t *testing.T) {
	bus := eventbus.New(eventbus.DefaultConfig())
	v := NewMemory(Config{Base: "/base", Bus: bus})

	bus.On(eventbus.KindVFSChange, func(ev eventbus.Event) {
		t.Fatalf("unexpected event for no-op delete: %+v", ev)
	})

	if _, err := v.Delete("never-existed.txt", "alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}
