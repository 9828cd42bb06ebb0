package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/cuesync/cuesync/go/internal/timer"
)

// FileStore keeps the registry snapshot in a single JSON file, rewritten
// atomically on every save.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (fs *FileStore) Save(ctx context.Context, snapshots map[string]timer.Snapshot) error {
	data, err := json.MarshalIndent(snapshots, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal timer states: %w", err)
	}

	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	// Write-then-rename so a crash mid-write never corrupts the prior snapshot.
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write timer states: %w", err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return fmt.Errorf("replace timer states: %w", err)
	}

	return nil
}

func (fs *FileStore) Load(ctx context.Context) (map[string]timer.Snapshot, error) {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", fs.path).Msg("no saved timer states found, starting fresh")
			return map[string]timer.Snapshot{}, nil
		}
		return nil, fmt.Errorf("read timer states: %w", err)
	}

	var snapshots map[string]timer.Snapshot
	if err := json.Unmarshal(data, &snapshots); err != nil {
		log.Warn().Err(err).Str("path", fs.path).Msg("timer state file is malformed, starting fresh")
		return map[string]timer.Snapshot{}, nil
	}
	if snapshots == nil {
		snapshots = map[string]timer.Snapshot{}
	}

	return snapshots, nil
}
