package geo

import (
	"testing"

	"github.com/clicklens/clicklens/internal/model"
)

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	c, err := NewLRUCache(2)
	if err != nil {
		t.Fatalf("NewLRUCache() error = %v", err)
	}

	c.Add("1.1.1.1", model.Geo{CountryCode: "AU"})
	c.Add("8.8.8.8", model.Geo{CountryCode: "US"})
	c.Get("1.1.1.1") // 8.8.8.8 becomes least recent
	c.Add("9.9.9.9", model.Geo{CountryCode: "CH"})

	if _, ok := c.Get("8.8.8.8"); ok {
		t.Error("8.8.8.8 should have been evicted")
	}
	if geo, ok := c.Get("1.1.1.1"); !ok || geo.CountryCode != "AU" {
		t.Errorf("Get(1.1.1.1) = %+v, %v", geo, ok)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}

	stats := c.Stats()
	if stats.Size != 2 || stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("Stats() = %+v, want size 2, hits 2, misses 1", stats)
	}
}

func TestNewLRUCache_DefaultSize(t *testing.T) {
	t.Parallel()

	c, err := NewLRUCache(0)
	if err != nil {
		t.Fatalf("NewLRUCache(0) error = %v", err)
	}
	for i := 0; i < 100; i++ {
		c.Add(string(rune('a'+i%26))+string(rune('0'+i/26)), model.Geo{})
	}
	if c.Len() != 100 {
		t.Fatalf("Len() = %d, want 100", c.Len())
	}
}
