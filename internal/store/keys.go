package store

import (
	"fmt"

	"github.com/tgasco/portfolio-sync/internal/imaging"
)

// AggregateKey is the well-known key holding the aggregate project
// document, overwritten at the end of every successful sync.
const AggregateKey = "data/projectData.json"

// OriginalKey returns the canonical key for a source asset. The digest
// stored at this key is the single source of truth for whether the
// asset needs reprocessing.
func OriginalKey(name string, ext string) string {
	return fmt.Sprintf("img/original/%s-original.%s", name, ext)
}

// VariantKey returns the key for a derived variant. Keys are a pure
// function of asset identity, tier, and format, so the write and read
// paths derive them independently without any lookup table.
func VariantKey(name string, size imaging.Size, format imaging.Format) string {
	return fmt.Sprintf("img/%s/%s/%s-%s.%s", format, size, name, size, format)
}
