package effects

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/forPelevin/autoshort/internal/types"
)

// Entry maps a trigger keyword to a sound-effect file name.
type Entry struct {
	Keyword string `mapstructure:"keyword" yaml:"keyword"`
	Asset   string `mapstructure:"asset" yaml:"asset"`
}

// Table is ordered: earlier entries win when several keywords match.
type Table []Entry

var DefaultTable = Table{
	{Keyword: "explosion", Asset: "explosion.wav"},
	{Keyword: "suspense", Asset: "drum_roll.wav"},
	{Keyword: "victory", Asset: "cheering.wav"},
	{Keyword: "fail", Asset: "sad_trombone.wav"},
	{Keyword: "transition", Asset: "whoosh.wav"},
}

func (t Table) Keywords() []string {
	out := make([]string, 0, len(t))
	for _, e := range t {
		out = append(out, e.Keyword)
	}
	return out
}

type entry struct {
	keyword string
	path    string
	missing bool
}

type Resolver struct {
	entries []entry
}

// Load validates every asset of table under dir once. Missing assets are
// returned as ErrEffectAssetMissing errors and are not fatal: the entry keeps
// its priority but resolves to no effect.
//
// fsys is rooted so that dir is a valid fs path inside it; use LoadDir for a
// directory on disk.
func Load(fsys fs.FS, dir string, table Table) (*Resolver, []error) {
	r := &Resolver{entries: make([]entry, 0, len(table))}
	var problems []error
	for _, e := range table {
		kw := strings.ToLower(strings.TrimSpace(e.Keyword))
		if kw == "" {
			continue
		}
		en := entry{keyword: kw, path: path.Join(dir, e.Asset)}
		if _, err := fs.Stat(fsys, en.path); err != nil {
			en.missing = true
			problems = append(problems, fmt.Errorf("%w: %q -> %s: %v", types.ErrEffectAssetMissing, kw, e.Asset, err))
		}
		r.entries = append(r.entries, en)
	}
	return r, problems
}

// LoadDir is Load against a directory on disk; resolved asset paths are
// absolute when dir is.
func LoadDir(dir string, table Table) (*Resolver, []error) {
	r, problems := Load(os.DirFS(dir), ".", table)
	for i := range r.entries {
		r.entries[i].path = filepath.Join(dir, r.entries[i].path)
	}
	return r, problems
}

// Resolve returns the effect of the first keyword, in table order, that occurs
// in text. A nil assignment with a nil error means nothing matched; a matched
// keyword whose asset was missing at load time yields ErrEffectAssetMissing.
func (r *Resolver) Resolve(text string) (*types.EffectAssignment, error) {
	if r == nil {
		return nil, nil
	}
	lower := strings.ToLower(text)
	for _, e := range r.entries {
		if !strings.Contains(lower, e.keyword) {
			continue
		}
		if e.missing {
			return nil, fmt.Errorf("%w: %q", types.ErrEffectAssetMissing, e.keyword)
		}
		return &types.EffectAssignment{Keyword: e.keyword, AssetPath: e.path}, nil
	}
	return nil, nil
}
