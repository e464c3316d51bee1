package retrieval

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// openTestDB creates an in-memory SQLite database with the kb_chunks table.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	_, err = db.Exec(`
		CREATE TABLE kb_chunks (
			id TEXT PRIMARY KEY,
			source_type TEXT NOT NULL,
			source_id TEXT NOT NULL,
			problem TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			embedding BLOB NOT NULL,
			created_at TEXT NOT NULL
		)`)
	if err != nil {
		t.Fatalf("creating table: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func makeTestVector(dim int, seed float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = seed + float32(i)*0.001
	}
	return v
}

func TestInsertAndSearch(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)

	vec := makeTestVector(768, 0.1)
	err := s.Insert([]Record{{
		ID:         "r1",
		SourceType: SourceCatalog,
		SourceID:   "Engine Overheating",
		Problem:    "Engine Overheating",
		Text:       "Problem: Engine Overheating\nStep 1: Check coolant level.",
		Embedding:  vec,
		CreatedAt:  time.Now().UTC(),
	}})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := s.Search(vec, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Score < 0.99 {
		t.Errorf("score = %f, want > 0.99", results[0].Score)
	}
	if results[0].ID != "r1" {
		t.Errorf("ID = %q, want %q", results[0].ID, "r1")
	}
	if results[0].Problem != "Engine Overheating" {
		t.Errorf("Problem = %q, want %q", results[0].Problem, "Engine Overheating")
	}
	if results[0].SourceType != SourceCatalog {
		t.Errorf("SourceType = %q, want %q", results[0].SourceType, SourceCatalog)
	}
}

func TestSearch_TopK(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)

	var records []Record
	for i := 0; i < 10; i++ {
		records = append(records, Record{
			ID:         fmt.Sprintf("r%d", i),
			SourceType: SourceCatalog,
			SourceID:   "src",
			Text:       "text",
			Embedding:  makeTestVector(768, float32(i)*0.01),
			CreatedAt:  time.Now().UTC(),
		})
	}
	if err := s.Insert(records); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := s.Search(makeTestVector(768, 0.05), 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("got %d results, want 3", len(results))
	}
}

func TestSearch_RankedByScore(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)

	records := []Record{
		{ID: "far", SourceType: SourceManual, SourceID: "m1", Text: "far", Embedding: []float32{0, 1, 0}},
		{ID: "near", SourceType: SourceCatalog, SourceID: "p1", Text: "near", Embedding: []float32{1, 0.1, 0}},
		{ID: "exact", SourceType: SourceCatalog, SourceID: "p2", Text: "exact", Embedding: []float32{1, 0, 0}},
	}
	if err := s.Insert(records); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := s.Search([]float32{1, 0, 0}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].ID != "exact" || results[1].ID != "near" || results[2].ID != "far" {
		t.Errorf("order = [%q, %q, %q], want [exact, near, far]", results[0].ID, results[1].ID, results[2].ID)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("scores not descending: %f > %f", results[i].Score, results[i-1].Score)
		}
	}
}

func TestSearch_EmptyTable(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)

	results, err := s.Search(makeTestVector(768, 0.1), 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestSearch_TopKZero(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)

	results, err := s.Search(makeTestVector(768, 0.1), 0)
	if err != nil {
		t.Fatalf("Search with topK=0: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil results for topK=0, got %d", len(results))
	}
}

func TestSearch_ZeroQueryVector(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)

	if err := s.Insert([]Record{{ID: "r1", SourceType: SourceCatalog, SourceID: "s", Text: "t", Embedding: makeTestVector(8, 0.1)}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := s.Search(make([]float32, 8), 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil results for zero query vector, got %d", len(results))
	}
}

func TestReplaceSourceType(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)

	records := []Record{
		{ID: "c1", SourceType: SourceCatalog, SourceID: "p1", Text: "catalog chunk", Embedding: makeTestVector(8, 0.1)},
		{ID: "c2", SourceType: SourceCatalog, SourceID: "p2", Text: "catalog chunk", Embedding: makeTestVector(8, 0.2)},
		{ID: "m1", SourceType: SourceManual, SourceID: "man-1", Text: "manual chunk", Embedding: makeTestVector(8, 0.3)},
	}
	if err := s.Insert(records); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	replacement := []Record{
		{ID: "c3", SourceType: SourceCatalog, SourceID: "p3", Text: "new catalog chunk", Embedding: makeTestVector(8, 0.4)},
	}
	if err := s.ReplaceSourceType(SourceCatalog, replacement); err != nil {
		t.Fatalf("ReplaceSourceType: %v", err)
	}

	count, err := s.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2 (new catalog record + untouched manual record)", count)
	}

	results, err := s.Search(makeTestVector(8, 0.4), 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	ids := map[string]bool{}
	for _, r := range results {
		ids[r.ID] = true
	}
	if !ids["c3"] || !ids["m1"] || ids["c1"] || ids["c2"] {
		t.Errorf("surviving IDs = %v, want c3 and m1 only", ids)
	}
}

func TestReplaceSourceType_EmptyActsAsDelete(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)

	if err := s.Insert([]Record{
		{ID: "c1", SourceType: SourceCatalog, SourceID: "p1", Text: "t", Embedding: makeTestVector(8, 0.1)},
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := s.ReplaceSourceType(SourceCatalog, nil); err != nil {
		t.Fatalf("ReplaceSourceType: %v", err)
	}

	count, err := s.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
}

func TestReplaceSourceID(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)

	records := []Record{
		{ID: "m1-a", SourceType: SourceManual, SourceID: "man-1", Text: "chunk a", Embedding: makeTestVector(8, 0.1)},
		{ID: "m1-b", SourceType: SourceManual, SourceID: "man-1", Text: "chunk b", Embedding: makeTestVector(8, 0.2)},
		{ID: "m2-a", SourceType: SourceManual, SourceID: "man-2", Text: "chunk a", Embedding: makeTestVector(8, 0.3)},
	}
	if err := s.Insert(records); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	replacement := []Record{
		{ID: "m1-c", SourceType: SourceManual, SourceID: "man-1", Text: "reindexed chunk", Embedding: makeTestVector(8, 0.5)},
	}
	if err := s.ReplaceSourceID("man-1", replacement); err != nil {
		t.Fatalf("ReplaceSourceID: %v", err)
	}

	count, err := s.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	// Replacing a source with no records is not an error.
	if err := s.ReplaceSourceID("man-3", nil); err != nil {
		t.Errorf("ReplaceSourceID on absent source: %v", err)
	}
}

func TestReplaceSourceID_RollsBackOnDuplicate(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)

	if err := s.Insert([]Record{
		{ID: "m1-a", SourceType: SourceManual, SourceID: "man-1", Text: "old chunk", Embedding: makeTestVector(8, 0.1)},
		{ID: "keep", SourceType: SourceManual, SourceID: "man-2", Text: "other manual", Embedding: makeTestVector(8, 0.2)},
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// Second record collides with the surviving "keep" row, forcing a rollback.
	bad := []Record{
		{ID: "m1-new", SourceType: SourceManual, SourceID: "man-1", Text: "new chunk", Embedding: makeTestVector(8, 0.3)},
		{ID: "keep", SourceType: SourceManual, SourceID: "man-1", Text: "duplicate id", Embedding: makeTestVector(8, 0.4)},
	}
	if err := s.ReplaceSourceID("man-1", bad); err == nil {
		t.Fatal("expected error from duplicate primary key")
	}

	// Old records must survive a failed replace.
	results, err := s.Search(makeTestVector(8, 0.1), 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	ids := map[string]bool{}
	for _, r := range results {
		ids[r.ID] = true
	}
	if !ids["m1-a"] || !ids["keep"] || ids["m1-new"] {
		t.Errorf("IDs after failed replace = %v, want the original m1-a and keep", ids)
	}
}

func TestClear(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)

	if err := s.Insert([]Record{
		{ID: "r1", SourceType: SourceCatalog, SourceID: "s", Text: "t", Embedding: makeTestVector(8, 0.1)},
		{ID: "r2", SourceType: SourceManual, SourceID: "s", Text: "t", Embedding: makeTestVector(8, 0.2)},
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	count, err := s.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
}

func TestCount(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)

	count, err := s.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 0 {
		t.Errorf("empty count = %d, want 0", count)
	}

	if err := s.Insert([]Record{
		{ID: "r1", SourceType: SourceCatalog, SourceID: "s", Text: "t", Embedding: makeTestVector(768, 0.1), CreatedAt: time.Now().UTC()},
		{ID: "r2", SourceType: SourceCatalog, SourceID: "s", Text: "t", Embedding: makeTestVector(768, 0.2), CreatedAt: time.Now().UTC()},
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	count, err = s.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestInsert_DefaultCreatedAt(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)

	vec := makeTestVector(8, 0.1)
	if err := s.Insert([]Record{{ID: "r1", SourceType: SourceCatalog, SourceID: "s", Text: "t", Embedding: vec}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := s.Search(vec, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].CreatedAt.IsZero() {
		t.Error("CreatedAt is zero, want defaulted timestamp")
	}
}

func TestDecodeFloat32s_InvalidLength(t *testing.T) {
	if _, err := decodeFloat32s([]byte{0x01, 0x02, 0x03}); err == nil {
		t.Error("expected error for byte slice not a multiple of 4")
	}
}
