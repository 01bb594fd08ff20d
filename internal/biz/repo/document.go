package repo

import (
	"context"

	"github.com/devricklin/feishu-console-bridge/internal/biz/domain"
)

// DocumentRepo persists the bot configuration document
type DocumentRepo interface {
	// Load reads the document. A missing document is created from defaults;
	// created reports that case.
	Load(ctx context.Context) (doc domain.Document, created bool, err error)

	// Save writes the whole document
	Save(ctx context.Context, doc domain.Document) error

	// Path returns where the document lives, for log messages
	Path() string
}
