package cmd

import (
	"context"
	"strings"

	"github.com/approvia/approvia/pkg/directory"
)

// NewDirectory selects the role directory backend from its URL. Redis URLs
// get the shared membership sets; the "static" scheme yields an empty
// in-process directory to be filled programmatically.
func NewDirectory(ctx context.Context, directoryURL string) directory.Resolver {
	switch {
	case strings.HasPrefix(directoryURL, "redis://"), strings.HasPrefix(directoryURL, "rediss://"):
		resolver, err := directory.NewRedisDirectoryFromURL(ctx, directoryURL)
		if err != nil {
			panic(err)
		}

		return resolver
	case directoryURL == "static://" || directoryURL == "static":
		return directory.NewStaticDirectory()
	default:
		panic("Unsupported directory URL: " + directoryURL)
	}
}
