// Package source defines the content-source collaborator contract and the
// registry that maps identifiers to bundled adapters. Site mechanics live
// entirely behind the Source interface; the pipeline only sees metadata,
// per-item fetch results and an explicit capability descriptor.
package source

import (
	"context"

	"github.com/1k-7/LNreqnw/internal/novel"
)

// Capability describes what an adapter supports beyond the mandatory
// operations. Callers branch on this descriptor instead of probing for
// overridden behavior.
type Capability struct {
	Cover  bool
	Search bool
	Login  bool
}

// Source is one adapter instance bound to a single job. Instances are not
// shared between jobs; Close releases any session state the adapter holds.
//
// FetchItem sets the chapter's Success flag, which is authoritative for the
// integrity gate: a chapter left unsuccessful blocks packaging.
type Source interface {
	ResolveMetadata(ctx context.Context, url string) (*novel.Novel, error)
	FetchItem(ctx context.Context, ch *novel.Chapter) error
	Capabilities() Capability
	Close() error
}

// CoverFetcher is implemented by adapters whose Capability reports Cover.
type CoverFetcher interface {
	FetchCover(ctx context.Context, url string) ([]byte, error)
}
