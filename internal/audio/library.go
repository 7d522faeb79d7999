package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var ErrNoMusic = errors.New("no background music available")

// Picker is the random source used to choose a track. *rand.Rand from
// math/rand/v2 satisfies it.
type Picker interface {
	IntN(n int) int
}

// Library is a directory of background music tracks.
type Library struct {
	Dir string
}

// Tracks lists the playable files of the library in name order.
func (l Library) Tracks() ([]string, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return nil, fmt.Errorf("music dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".mp3", ".wav":
			out = append(out, filepath.Join(l.Dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Pick returns one track chosen uniformly with r.
func (l Library) Pick(r Picker) (string, error) {
	tracks, err := l.Tracks()
	if err != nil {
		return "", err
	}
	if len(tracks) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoMusic, l.Dir)
	}
	return tracks[r.IntN(len(tracks))], nil
}
