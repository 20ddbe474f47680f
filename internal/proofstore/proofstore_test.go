package proofstore

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type recordScheduler struct {
	refs []string
	at   []time.Time
}

func (r *recordScheduler) Schedule(_ context.Context, ref string, deleteAt time.Time) error {
	r.refs = append(r.refs, ref)
	r.at = append(r.at, deleteAt)
	return nil
}

var (
	pngBytes = []byte("\x89PNG\r\n\x1a\nreceipt bytes")
	pdfBytes = []byte("%PDF-1.4\nreceipt")
)

func TestDiskStoreSaveAndOpen(t *testing.T) {
	scheduler := &recordScheduler{}
	store, err := NewDiskStore(t.TempDir(), 1<<20, scheduler)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ref, err := store.Save(context.Background(), pngBytes, "image/png")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasSuffix(ref, ".png") {
		t.Fatalf("expected .png ref, got %s", ref)
	}

	data, err := store.Open(ref)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(data, pngBytes) {
		t.Fatalf("unexpected content")
	}

	if err := store.ScheduleDeletion(context.Background(), ref, time.Hour); err != nil {
		t.Fatalf("schedule deletion: %v", err)
	}
	if len(scheduler.refs) != 1 || scheduler.refs[0] != ref {
		t.Fatalf("expected deletion scheduled for %s", ref)
	}
}

func TestDiskStoreRejectsUnsupportedType(t *testing.T) {
	store, err := NewDiskStore(t.TempDir(), 1<<20, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.Save(context.Background(), []byte("x"), "text/html"); !errors.Is(err, ErrUnsupportedContentType) {
		t.Fatalf("expected unsupported content type, got %v", err)
	}
}

func TestDiskStoreSniffsMislabeledContent(t *testing.T) {
	store, err := NewDiskStore(t.TempDir(), 1<<20, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	// declared png, bytes are plain text
	if _, err := store.Save(context.Background(), []byte("just some text"), "image/png"); !errors.Is(err, ErrUnsupportedContentType) {
		t.Fatalf("expected mislabeled payload rejected, got %v", err)
	}

	// declared jpeg, bytes are pdf: the sniffed type names the file
	ref, err := store.Save(context.Background(), pdfBytes, "image/jpeg")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasSuffix(ref, ".pdf") {
		t.Fatalf("expected .pdf ref from sniffed bytes, got %s", ref)
	}
}

func TestDiskStoreRejectsOversizedFile(t *testing.T) {
	store, err := NewDiskStore(t.TempDir(), 4, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.Save(context.Background(), pngBytes, "image/png"); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected too large, got %v", err)
	}
}

func TestDiskStoreRemoveIsIdempotent(t *testing.T) {
	store, err := NewDiskStore(t.TempDir(), 1<<20, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ref, err := store.Save(context.Background(), pdfBytes, "application/pdf")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Remove(ref); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := store.Remove(ref); err != nil {
		t.Fatalf("second remove must be a no-op: %v", err)
	}
	if _, err := store.Open(ref); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after removal, got %v", err)
	}
}

func TestRefTraversalRejected(t *testing.T) {
	store, err := NewDiskStore(t.TempDir(), 1<<20, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.Open("../etc/passwd"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected traversal rejected, got %v", err)
	}
}
