package testutil

import (
	"fmt"
	"math/rand"
)

// Fictional titles used for generated content. Never use real book titles.
var Titles = []string{
	"The Quiet Orchard",
	"Harbour of Glass",
	"A Lantern for Wren",
	"The Cartographer's Daughter",
	"Salt and Ember",
	"Northbound",
}

// SampleDataGenerator produces reproducible test content identifiers.
type SampleDataGenerator struct {
	rng *rand.Rand
}

// NewSampleDataGeneratorWithSeed creates a generator with a fixed seed.
func NewSampleDataGeneratorWithSeed(seed int64) *SampleDataGenerator {
	//nolint:gosec // deterministic test data
	return &SampleDataGenerator{rng: rand.New(rand.NewSource(seed))}
}

// ContentID returns a content id of the form "book-<n>".
func (g *SampleDataGenerator) ContentID() string {
	return fmt.Sprintf("book-%06d", g.rng.Intn(1_000_000))
}

// Title returns a random fictional title.
func (g *SampleDataGenerator) Title() string {
	return Titles[g.rng.Intn(len(Titles))]
}

// SignedURL returns a plausible signed media URL for contentID on host.
func (g *SampleDataGenerator) SignedURL(host, contentID string) string {
	return fmt.Sprintf("%s/storage/v1/object/sign/audiobooks/%s.mp3?token=%08x", host, contentID, g.rng.Uint32())
}
