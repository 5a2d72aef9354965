package streamtable

import "testing"

type nopTarget struct{}

func (nopTarget) Deliver(interface{}) {}

func TestInsertLookupByIDAndRef(t *testing.T) {
	tbl := New()
	ref := NewRef()
	tbl.Insert(&Stream{ID: 1, Ref: ref, ReplyTo: nopTarget{}, Method: "GET"})

	byID, ok := tbl.ByID(1)
	if !ok || byID.Method != "GET" {
		t.Fatalf("ByID lookup failed: %+v, %v", byID, ok)
	}
	byRef, ok := tbl.ByRef(ref)
	if !ok || byRef.ID != 1 {
		t.Fatalf("ByRef lookup failed: %+v, %v", byRef, ok)
	}
}

func TestInsertOverwritesExistingID(t *testing.T) {
	tbl := New()
	tbl.Insert(&Stream{ID: 1, Ref: NewRef(), ReplyTo: nopTarget{}})
	second := &Stream{ID: 1, Ref: NewRef(), ReplyTo: nopTarget{}}
	tbl.Insert(second)

	if tbl.Len() != 1 {
		t.Fatalf("want a single row after re-inserting id 1, got %d", tbl.Len())
	}
	got, _ := tbl.ByID(1)
	if got.Ref != second.Ref {
		t.Fatalf("expected the second insert to win")
	}
}

func TestUpdateNoOpOnMissingID(t *testing.T) {
	tbl := New()
	tbl.Update(&Stream{ID: 42})
	if tbl.Len() != 0 {
		t.Fatalf("Update on a missing id must not insert")
	}
}

func TestDeleteRemovesBothIndexes(t *testing.T) {
	tbl := New()
	ref := NewRef()
	tbl.Insert(&Stream{ID: 5, Ref: ref, ReplyTo: nopTarget{}})
	tbl.Delete(5)

	if _, ok := tbl.ByID(5); ok {
		t.Fatalf("ByID should miss after Delete")
	}
	if _, ok := tbl.ByRef(ref); ok {
		t.Fatalf("ByRef should miss after Delete")
	}
	if tbl.Len() != 0 {
		t.Fatalf("want empty table, got len %d", tbl.Len())
	}
}

func TestEachIsStableInsertionOrder(t *testing.T) {
	tbl := New()
	ids := []uint32{3, 1, 7, 5}
	for _, id := range ids {
		tbl.Insert(&Stream{ID: id, Ref: NewRef(), ReplyTo: nopTarget{}})
	}

	var seen []uint32
	tbl.Each(func(s *Stream) bool {
		seen = append(seen, s.ID)
		return true
	})
	if len(seen) != len(ids) {
		t.Fatalf("want %d rows, got %d", len(ids), len(seen))
	}
	for i, id := range ids {
		if seen[i] != id {
			t.Fatalf("want insertion order %v, got %v", ids, seen)
		}
	}
}

func TestEachStopsEarly(t *testing.T) {
	tbl := New()
	for i := uint32(0); i < 5; i++ {
		tbl.Insert(&Stream{ID: i, Ref: NewRef(), ReplyTo: nopTarget{}})
	}
	count := 0
	tbl.Each(func(*Stream) bool {
		count++
		return count < 2
	})
	if count != 2 {
		t.Fatalf("want early stop after 2 rows, got %d", count)
	}
}
