package memory

import (
	"testing"
)

func TestStoreAddAndSearch(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := store.Add("User prefers tea over coffee", []string{"preferences"}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Add("Dentist appointment on Friday", []string{"calendar"}); err != nil {
		t.Fatal(err)
	}

	if got := store.Search("TEA"); len(got) != 1 {
		t.Fatalf("content search returned %d entries", len(got))
	}
	if got := store.Search("calendar"); len(got) != 1 {
		t.Fatalf("tag search returned %d entries", len(got))
	}
	if got := store.Search(""); len(got) != 2 {
		t.Fatalf("empty query returned %d entries, want all", len(got))
	}
	if got := store.Search("nonexistent"); len(got) != 0 {
		t.Fatalf("bogus query returned %d entries", len(got))
	}
}

func TestStoreUpdateAndDelete(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	e, err := store.Add("original", nil)
	if err != nil {
		t.Fatal(err)
	}

	updated, err := store.Update(e.ID, "revised", []string{"new-tag"})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Content != "revised" || len(updated.Tags) != 1 {
		t.Fatalf("got %+v", updated)
	}
	if updated.CreatedAt != e.CreatedAt {
		t.Fatal("update changed creation time")
	}

	if _, err := store.Update("ghost", "x", nil); err == nil {
		t.Fatal("updating a missing entry succeeded")
	}

	ok, err := store.Delete(e.ID)
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	ok, err = store.Delete(e.ID)
	if err != nil || ok {
		t.Fatalf("double delete: ok=%v err=%v", ok, err)
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	workspace := t.TempDir()
	store, err := NewStore(workspace)
	if err != nil {
		t.Fatal(err)
	}
	e, err := store.Add("durable fact", []string{"test"})
	if err != nil {
		t.Fatal(err)
	}

	reopened, err := NewStore(workspace)
	if err != nil {
		t.Fatal(err)
	}
	entries := reopened.List()
	if len(entries) != 1 || entries[0].ID != e.ID {
		t.Fatalf("got %+v", entries)
	}
}
