package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Reverse-Call-Center/agent-phone/types"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Provider supplies the logged-in agent's credentials.
type Provider interface {
	Current() types.Credentials
	// Changes delivers the new credentials whenever the agent changes.
	Changes() <-chan types.Credentials
}

// Static never changes.
type Static struct {
	Credentials types.Credentials
}

func (s Static) Current() types.Credentials { return s.Credentials }

func (s Static) Changes() <-chan types.Credentials { return nil }

// FileProvider reads {"identity": ..., "secret": ...} from a JSON file and
// reloads it when the file is written or replaced.
type FileProvider struct {
	path    string
	logger  zerolog.Logger
	watcher *fsnotify.Watcher
	changes chan types.Credentials

	mutex   sync.RWMutex
	current types.Credentials
}

func NewFileProvider(path string, logger zerolog.Logger) (*FileProvider, error) {
	creds, err := Load(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	// The directory is watched so editors that replace the file are seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	return &FileProvider{
		path:    filepath.Clean(path),
		logger:  logger.With().Str("component", "credentials").Logger(),
		watcher: watcher,
		changes: make(chan types.Credentials, 1),
		current: creds,
	}, nil
}

// Load reads credentials from a JSON file.
func Load(path string) (types.Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Credentials{}, fmt.Errorf("error opening credentials file: %w", err)
	}
	var creds types.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return types.Credentials{}, fmt.Errorf("error decoding credentials JSON: %w", err)
	}
	return creds, nil
}

func (p *FileProvider) Current() types.Credentials {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.current
}

func (p *FileProvider) Changes() <-chan types.Credentials { return p.changes }

// Run watches the file until ctx is done.
func (p *FileProvider) Run(ctx context.Context) {
	defer p.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				p.reload()
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn().Err(err).Msg("Watcher error")
		}
	}
}

func (p *FileProvider) reload() {
	creds, err := Load(p.path)
	if err != nil {
		// Half-written files are common mid-save; the next event retries.
		p.logger.Debug().Err(err).Msg("Credentials reload skipped")
		return
	}

	p.mutex.Lock()
	if creds == p.current {
		p.mutex.Unlock()
		return
	}
	p.current = creds
	p.mutex.Unlock()

	p.logger.Info().Str("identity", creds.Identity).Msg("Credentials changed")

	// Keep only the newest value for a slow reader.
	select {
	case <-p.changes:
	default:
	}
	p.changes <- creds
}
