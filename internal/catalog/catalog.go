package catalog

import (
	"bufio"
	"bytes"
	_ "embed"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"plant-sage/backend/internal/advisory"
	"plant-sage/backend/internal/match"
	"plant-sage/backend/internal/store"
)

// MatchThreshold is the minimum similarity for a fuzzy catalog hit.
const MatchThreshold = 0.85

// CacheSize bounds the number of remembered lookups, hits and misses alike.
const CacheSize = 4096

//go:embed seed.csv
var seedCSV []byte

// Entry is an importable catalog row.
type Entry struct {
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Points   float64 `json:"points"`
}

// Match is the best catalog entry for a free-text name.
type Match struct {
	Name       string  `json:"name"`
	Category   string  `json:"category"`
	Points     float64 `json:"points"`
	Similarity float64 `json:"similarity"`
}

// Service manages catalog persistence and lookup.
type Service struct {
	db    *store.Database
	cache *lru.Cache[string, cacheEntry]
}

type cacheEntry struct {
	match Match
	found bool
}

func NewService(db *store.Database) *Service {
	cache, err := lru.New[string, cacheEntry](CacheSize)
	if err != nil {
		panic(err)
	}
	return &Service{db: db, cache: cache}
}

// SeedDefaults loads the built-in catalog when the store is empty.
func (s *Service) SeedDefaults() (int, error) {
	count, err := s.db.CountCatalog()
	if err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}
	entries, err := ReadCSV(bytes.NewReader(seedCSV))
	if err != nil {
		return 0, fmt.Errorf("read seed catalog: %w", err)
	}
	return s.Replace(entries)
}

// LoadFile imports a CSV or JSON file, chosen by extension, replacing the catalog.
func (s *Service) LoadFile(path string) (int, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return 0, errors.New("catalog path is empty")
	}
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open catalog file: %w", err)
	}
	defer file.Close()

	var entries []Entry
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		entries, err = ReadJSON(file)
	default:
		entries, err = ReadCSV(bufio.NewReader(file))
	}
	if err != nil {
		return 0, err
	}
	return s.Replace(entries)
}

// ReadCSV parses name,category,points rows. A header row and malformed
// points are skipped.
func ReadCSV(r io.Reader) ([]Entry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var entries []Entry
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read catalog row: %w", err)
		}
		if len(row) == 0 {
			continue
		}
		name := strings.TrimSpace(row[0])
		if name == "" || strings.EqualFold(name, "name") {
			continue
		}
		entry := Entry{Name: name, Points: 1}
		if len(row) > 1 {
			entry.Category = strings.TrimSpace(row[1])
		}
		if len(row) > 2 {
			value := strings.TrimSpace(row[2])
			parsed, err := strconv.ParseFloat(value, 64)
			if err != nil || parsed < 0 || math.IsNaN(parsed) {
				continue
			}
			entry.Points = parsed
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ReadJSON parses an array of entries.
func ReadJSON(r io.Reader) ([]Entry, error) {
	var entries []Entry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode catalog json: %w", err)
	}
	return entries, nil
}

// Replace stores entries as the full catalog and resets the lookup cache.
func (s *Service) Replace(entries []Entry) (int, error) {
	plants := make([]store.CatalogPlant, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		normalized := match.NormalizeText(e.Name)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		category := strings.ToLower(strings.TrimSpace(e.Category))
		if category == "" {
			category = "other"
		}
		plants = append(plants, store.CatalogPlant{
			Name:       strings.TrimSpace(e.Name),
			Normalized: normalized,
			Prefix:     prefix(normalized, 3),
			Length:     runeLen(normalized),
			Category:   category,
			Points:     e.Points,
		})
	}
	if err := s.db.ReplaceCatalog(plants); err != nil {
		return 0, err
	}

	s.cache.Purge()

	return len(plants), nil
}

// Count returns the number of stored plants.
func (s *Service) Count() int {
	if s == nil {
		return 0
	}
	count, err := s.db.CountCatalog()
	if err != nil {
		return 0
	}
	return int(count)
}

// BestMatch returns the closest catalog plant when it clears MatchThreshold.
func (s *Service) BestMatch(name string) (Match, bool) {
	if s == nil {
		return Match{}, false
	}
	normalized := match.NormalizeText(name)
	if normalized == "" {
		return Match{}, false
	}

	if cached, ok := s.lookupCache(normalized); ok {
		return cached.match, cached.found
	}

	best, found := s.exact(normalized)
	if !found {
		best, found = s.fuzzy(normalized)
	}
	if found && best.Similarity < MatchThreshold {
		found = false
	}

	s.storeCache(normalized, cacheEntry{match: best, found: found})
	if !found {
		return Match{}, false
	}
	return best, true
}

func (s *Service) exact(normalized string) (Match, bool) {
	for _, candidate := range singularForms(normalized) {
		plant, err := s.db.FindCatalogPlant(candidate)
		if err != nil {
			logrus.WithError(err).WithField("name", candidate).Warn("catalog lookup")
			return Match{}, false
		}
		if plant != nil {
			return Match{Name: plant.Name, Category: plant.Category, Points: plant.Points, Similarity: 1}, true
		}
	}
	return Match{}, false
}

func (s *Service) fuzzy(normalized string) (Match, bool) {
	targetLen := runeLen(normalized)
	minLen := targetLen - 2
	if minLen < 1 {
		minLen = 1
	}
	maxLen := targetLen + 2

	searchPrefixes := [][]string{
		uniqueNonEmpty([]string{prefix(normalized, 3)}),
		uniqueNonEmpty([]string{prefix(normalized, 2)}),
		uniqueNonEmpty([]string{prefix(normalized, 1)}),
		nil,
	}

	var best Match
	var found bool
	for _, prefixes := range searchPrefixes {
		candidates, err := s.db.FindCatalogCandidates(prefixes, minLen, maxLen, targetLen, 75)
		if err != nil {
			continue
		}
		for _, candidate := range candidates {
			sim := similarity(normalized, candidate.Normalized)
			if sim > best.Similarity {
				best = Match{Name: candidate.Name, Category: candidate.Category, Points: candidate.Points, Similarity: sim}
				found = true
			}
		}
		if found && best.Similarity >= 0.95 {
			break
		}
	}
	return best, found
}

// Reconcile replaces recognized names, categories and points with catalog
// values when a match clears the threshold.
func (s *Service) Reconcile(items []advisory.RecognizedItem) []advisory.RecognizedItem {
	out := make([]advisory.RecognizedItem, len(items))
	for i, item := range items {
		if m, ok := s.BestMatch(item.Name); ok {
			item.Name = m.Name
			item.Category = m.Category
			item.Points = m.Points
			item.MatchedCatalog = true
		}
		out[i] = item
	}
	return out
}

func (s *Service) lookupCache(key string) (cacheEntry, bool) {
	return s.cache.Get(key)
}

func (s *Service) storeCache(key string, entry cacheEntry) {
	s.cache.Add(key, entry)
}

// singularForms lists the name itself followed by naive singulars of its
// last word ("cherry tomatoes" -> "cherry tomato").
func singularForms(normalized string) []string {
	forms := []string{normalized}
	switch {
	case strings.HasSuffix(normalized, "ies"):
		forms = append(forms, strings.TrimSuffix(normalized, "ies")+"y")
	case strings.HasSuffix(normalized, "oes"), strings.HasSuffix(normalized, "ches"), strings.HasSuffix(normalized, "shes"):
		forms = append(forms, strings.TrimSuffix(normalized, "es"))
	case strings.HasSuffix(normalized, "s") && !strings.HasSuffix(normalized, "ss"):
		forms = append(forms, strings.TrimSuffix(normalized, "s"))
	}
	return forms
}

func uniqueNonEmpty(items []string) []string {
	var result []string
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func prefix(value string, size int) string {
	if size <= 0 {
		return ""
	}
	runes := []rune(value)
	if len(runes) < size {
		size = len(runes)
	}
	if size <= 0 {
		return ""
	}
	return string(runes[:size])
}

func runeLen(value string) int {
	return len([]rune(value))
}

func similarity(a, b string) float64 {
	aRunes := []rune(a)
	bRunes := []rune(b)
	if len(aRunes) == 0 && len(bRunes) == 0 {
		return 1
	}
	if len(aRunes) == 0 || len(bRunes) == 0 {
		return 0
	}

	dist := levenshtein(aRunes, bRunes)
	maxLen := math.Max(float64(len(aRunes)), float64(len(bRunes)))
	score := 1 - float64(dist)/maxLen
	if score < 0 {
		return 0
	}
	return score
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for c := range prev {
		prev[c] = c
	}
	for r := 1; r <= len(a); r++ {
		curr[0] = r
		for c := 1; c <= len(b); c++ {
			cost := 1
			if a[r-1] == b[c-1] {
				cost = 0
			}
			curr[c] = min(prev[c]+1, curr[c-1]+1, prev[c-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
