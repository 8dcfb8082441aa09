package dataset

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

var shardPattern = regexp.MustCompile(`^shard-[0-9]{6,}\.tar$`)

// DiscoverShards lists the shard files under root in lexical order. root may
// also name a single shard. Hidden directories are skipped.
func DiscoverShards(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrap(err, "discover shards")
	}
	if !info.IsDir() {
		if !shardPattern.MatchString(info.Name()) {
			return nil, errors.Errorf("%s is not a shard", root)
		}
		return []string{root}, nil
	}

	var shards []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case d.IsDir() && path != root && strings.HasPrefix(d.Name(), "."):
			return filepath.SkipDir
		case !d.IsDir() && shardPattern.MatchString(d.Name()):
			shards = append(shards, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "walk %s", root)
	}
	slices.Sort(shards)
	return shards, nil
}

// DiscoverByRoot scans every distinct, non-blank root. Each root must hold
// at least one shard.
func DiscoverByRoot(roots []string) (map[string][]string, error) {
	byRoot := make(map[string][]string, len(roots))
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		root = filepath.Clean(root)
		if _, seen := byRoot[root]; seen {
			continue
		}
		shards, err := DiscoverShards(root)
		if err != nil {
			return nil, err
		}
		if len(shards) == 0 {
			return nil, errors.Errorf("no shards under %s", root)
		}
		byRoot[root] = shards
	}
	if len(byRoot) == 0 {
		return nil, errors.New("no dataset roots given")
	}
	return byRoot, nil
}
