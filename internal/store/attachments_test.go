package store

import (
	"bytes"
	"testing"
)

func TestAttachmentStoreGetRoundtrip(t *testing.T) {
	s := openTestStore(t)

	a := Attachment{
		ID:       "att-1",
		NoteID:   "note-1",
		Filename: "receipt.png",
		MimeType: "image/png",
		Size:     4,
		Data:     []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}
	if err := s.Attachments.Store(a); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	got, err := s.Attachments.Get("att-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Filename != a.Filename {
		t.Errorf("Filename = %q, want %q", got.Filename, a.Filename)
	}
	if !bytes.Equal(got.Data, a.Data) {
		t.Errorf("Data = %x, want %x", got.Data, a.Data)
	}
	if got.MimeType != a.MimeType {
		t.Errorf("MimeType = %q, want %q", got.MimeType, a.MimeType)
	}
}

func TestAttachmentDelete(t *testing.T) {
	s := openTestStore(t)

	if err := s.Attachments.Store(Attachment{ID: "att-1", Data: []byte("x")}); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if err := s.Attachments.Delete("att-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Attachments.Get("att-1"); err == nil {
		t.Error("Get() after Delete() succeeded, want error")
	}
}

func TestAttachmentCountAndTotalSize(t *testing.T) {
	s := openTestStore(t)

	if err := s.Attachments.Store(Attachment{ID: "a", Size: 10, Data: []byte("0123456789")}); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if err := s.Attachments.Store(Attachment{ID: "b", Size: 5, Data: []byte("01234")}); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	count, err := s.Attachments.Count()
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 2 {
		t.Errorf("Count() = %d, want 2", count)
	}

	total, err := s.Attachments.TotalSize()
	if err != nil {
		t.Fatalf("TotalSize() error = %v", err)
	}
	if total != 15 {
		t.Errorf("TotalSize() = %d, want 15", total)
	}

	size, err := s.Attachments.GetSize("a")
	if err != nil {
		t.Fatalf("GetSize() error = %v", err)
	}
	if size != 10 {
		t.Errorf("GetSize() = %d, want 10", size)
	}
}
