package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ItemInfo holds the slice of item template data the reward engine needs:
// existence and a display name for notification text.
type ItemInfo struct {
	ItemID int32
	Name   string
}

// ItemTable is the reward item catalog indexed by ItemID. A small built-in
// fallback table covers the common currency items so the engine stays
// usable even when the YAML catalog is missing entries.
type ItemTable struct {
	items map[int32]*ItemInfo
}

// fallbackItems mirrors the handful of ids every L1J-family build shares.
var fallbackItems = map[int32]string{
	40308: "金幣",
	40309: "友誼硬幣",
	40312: "旅館鑰匙",
	41246: "祝福的武器強化卷軸",
	41247: "祝福的防具強化卷軸",
}

// Get returns an item by ID, or nil if not found in catalog or fallback.
func (t *ItemTable) Get(itemID int32) *ItemInfo {
	if it, ok := t.items[itemID]; ok {
		return it
	}
	if name, ok := fallbackItems[itemID]; ok {
		return &ItemInfo{ItemID: itemID, Name: name}
	}
	return nil
}

// Exists reports whether the item id resolves to a known template.
func (t *ItemTable) Exists(itemID int32) bool {
	return t.Get(itemID) != nil
}

// Name returns the display name for an item id. Unknown ids get the
// original's fallback display form so notification text never breaks.
func (t *ItemTable) Name(itemID int32) string {
	if it := t.Get(itemID); it != nil {
		return it.Name
	}
	return fmt.Sprintf("未知道具(%d)", itemID)
}

// Count returns total loaded items (fallback entries excluded).
func (t *ItemTable) Count() int {
	return len(t.items)
}

type itemEntry struct {
	ItemID int32  `yaml:"item_id"`
	Name   string `yaml:"name"`
}

type itemListFile struct {
	Items []itemEntry `yaml:"items"`
}

// LoadItemTable loads the reward item catalog YAML.
func LoadItemTable(path string) (*ItemTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read items: %w", err)
	}
	var f itemListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse items: %w", err)
	}
	t := &ItemTable{items: make(map[int32]*ItemInfo, len(f.Items))}
	for i := range f.Items {
		e := &f.Items[i]
		t.items[e.ItemID] = &ItemInfo{ItemID: e.ItemID, Name: e.Name}
	}
	return t, nil
}

// NewItemTable builds a catalog from in-memory entries (tests, embedding).
func NewItemTable(items map[int32]string) *ItemTable {
	t := &ItemTable{items: make(map[int32]*ItemInfo, len(items))}
	for id, name := range items {
		t.items[id] = &ItemInfo{ItemID: id, Name: name}
	}
	return t
}
