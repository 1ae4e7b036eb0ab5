package songapi

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dmw2/shufflr/internal/config"
)

// TokenSource yields the current bearer token for upstream calls. Refreshing
// the token is owned by an external process; implementations only read
// whatever credential is current.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed credential, typically injected via configuration.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", errors.New("songapi: empty access token")
	}
	return string(t), nil
}

// fileToken reads the credential from a file an external refresher rewrites.
// The parsed value is cached until the file's mtime changes.
type fileToken struct {
	path string

	mu     sync.Mutex
	mtime  time.Time
	cached string
}

func (t *fileToken) Token(context.Context) (string, error) {
	info, err := os.Stat(t.path)
	if err != nil {
		return "", fmt.Errorf("songapi: stat token file: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cached != "" && info.ModTime().Equal(t.mtime) {
		return t.cached, nil
	}

	raw, err := os.ReadFile(t.path)
	if err != nil {
		return "", fmt.Errorf("songapi: read token file: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", fmt.Errorf("songapi: token file %s is empty", t.path)
	}
	t.cached = token
	t.mtime = info.ModTime()
	return token, nil
}

// TokenSourceFromConfig selects the credential source. A token file wins over
// an inline token so rotation keeps working when both are set.
func TokenSourceFromConfig(cfg config.UpstreamConfig) (TokenSource, error) {
	if strings.TrimSpace(cfg.TokenFile) != "" {
		return &fileToken{path: cfg.TokenFile}, nil
	}
	if strings.TrimSpace(cfg.Token) != "" {
		return StaticToken(cfg.Token), nil
	}
	return nil, errors.New("songapi: no access token configured")
}
