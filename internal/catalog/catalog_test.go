package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plant-sage/backend/internal/advisory"
	"plant-sage/backend/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "catalog.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewService(db)
}

func TestSeedDefaultsOnlyWhenEmpty(t *testing.T) {
	svc := newTestService(t)
	n, err := svc.SeedDefaults()
	require.NoError(t, err)
	assert.Greater(t, n, 50)
	assert.Equal(t, n, svc.Count())

	again, err := svc.SeedDefaults()
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestBestMatch(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.SeedDefaults()
	require.NoError(t, err)

	tests := []struct {
		input    string
		name     string
		category string
		points   float64
	}{
		{"Kale", "kale", "vegetable", 1},
		{"tomatoes", "tomato", "fruit", 1},
		{"Blueberries", "blueberry", "fruit", 1},
		{"brocoli", "broccoli", "vegetable", 1},
		{"Fresh basil", "", "", 0},
		{"Cumin", "cumin", "spice", 0.25},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			m, ok := svc.BestMatch(tc.input)
			if tc.name == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tc.name, m.Name)
			assert.Equal(t, tc.category, m.Category)
			assert.Equal(t, tc.points, m.Points)
			assert.GreaterOrEqual(t, m.Similarity, MatchThreshold)
		})
	}

	_, ok := svc.BestMatch("   ")
	assert.False(t, ok)
	_, ok = svc.BestMatch("spaghetti bolognese")
	assert.False(t, ok)
}

func TestReconcileMarksCatalogMatches(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Replace([]Entry{{Name: "Chickpea", Category: "Legume", Points: 1}})
	require.NoError(t, err)

	items := svc.Reconcile([]advisory.RecognizedItem{
		{Name: "chickpeas", Category: "other", Points: 0.5, Confidence: 0.7},
		{Name: "mystery sauce", Category: "other", Points: 1, Confidence: 0.4},
	})
	require.Len(t, items, 2)
	assert.Equal(t, "Chickpea", items[0].Name)
	assert.Equal(t, "legume", items[0].Category)
	assert.Equal(t, 1.0, items[0].Points)
	assert.True(t, items[0].MatchedCatalog)
	assert.Equal(t, 0.7, items[0].Confidence)
	assert.False(t, items[1].MatchedCatalog)
	assert.Equal(t, "mystery sauce", items[1].Name)
}

func TestReplaceResetsCache(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Replace([]Entry{{Name: "kale", Category: "vegetable", Points: 1}})
	require.NoError(t, err)
	_, ok := svc.BestMatch("quinoa")
	require.False(t, ok)

	_, err = svc.Replace([]Entry{{Name: "quinoa", Category: "wholegrain", Points: 1}})
	require.NoError(t, err)
	_, ok = svc.BestMatch("quinoa")
	assert.True(t, ok)
}

func TestLookupCacheIsBounded(t *testing.T) {
	svc := newTestService(t)
	for i := 0; i < CacheSize+100; i++ {
		svc.storeCache(fmt.Sprintf("unknown plant %d", i), cacheEntry{})
	}
	assert.Equal(t, CacheSize, svc.cache.Len())
	_, ok := svc.lookupCache("unknown plant 0")
	assert.False(t, ok, "oldest entries are evicted first")
	_, ok = svc.lookupCache(fmt.Sprintf("unknown plant %d", CacheSize+99))
	assert.True(t, ok)
}

func TestReadCSVSkipsHeaderAndBadRows(t *testing.T) {
	entries, err := ReadCSV(strings.NewReader("name,category,points\nkale,vegetable,1\nbasil,herb,abc\n,fruit,1\noats\n"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "kale", entries[0].Name)
	assert.Equal(t, Entry{Name: "oats", Points: 1}, entries[1])
}

func TestLoadFileByExtension(t *testing.T) {
	svc := newTestService(t)
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "plants.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`[{"name":"Lentil","category":"legume","points":1},{"name":"lentil","category":"legume","points":1}]`), 0o600))
	n, err := svc.LoadFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	csvPath := filepath.Join(dir, "plants.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("kale,vegetable,1\nmint,herb,0.25\n"), 0o600))
	n, err = svc.LoadFile(csvPath)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = svc.LoadFile("")
	require.Error(t, err)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, similarity("kale", "kale"))
	assert.Equal(t, 0.0, similarity("", "kale"))
	assert.InDelta(t, 0.75, similarity("kale", "kalk"), 1e-9)
	assert.Equal(t, 3, levenshtein([]rune("kitten"), []rune("sitting")))
}
