package models

import (
	"fmt"
	"sync"

	"harvester/config"
)

// HarvestableItem is the unit of scheduling. IDs are assigned per journal in
// enqueue order and correlate downloads, conversions and log output.
type HarvestableItem struct {
	ID      uint64
	URL     string
	Journal *config.JournalParams
}

func (item HarvestableItem) String() string {
	return fmt.Sprintf("%s#%d", item.Journal.Name, item.ID)
}

// ItemManager hands out dense, strictly increasing ids per journal,
// starting from 1.
type ItemManager struct {
	mu       sync.Mutex
	counters map[string]uint64
}

func NewItemManager() *ItemManager {
	return &ItemManager{counters: make(map[string]uint64)}
}

// NewItem assigns the next id for the journal and binds the URL to it.
func (m *ItemManager) NewItem(journal *config.JournalParams, url string) HarvestableItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counters[journal.Name]++
	return HarvestableItem{
		ID:      m.counters[journal.Name],
		URL:     url,
		Journal: journal,
	}
}
