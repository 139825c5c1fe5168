package rotation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pixperk/rbdsnap/pkg/types"
)

const (
	DefaultPrefix = "rbdsnap"

	// UTC creation time with milliseconds, sorts lexically in time order
	tokenLayout = "20060102T150405.000Z"
	// a taken token is bumped by one millisecond at most this many times
	maxCollisions = 1000

	// names of the script rbdsnap replaces: <counter>_rbd_snap_manager_<suffix>
	legacyInfix = "_rbd_snap_manager_"
)

// Namer builds and recognizes the snapshot names of one suffix group:
// <prefix>_<token>_<suffix>.
type Namer struct {
	Prefix string
	Suffix string
}

func NewNamer(prefix, suffix string) Namer {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Namer{Prefix: prefix, Suffix: suffix}
}

func (n Namer) name(token string) string {
	return n.Prefix + "_" + token + "_" + n.Suffix
}

// Token extracts the token of a name belonging to this group.
func (n Namer) Token(name string) (string, bool) {
	head := n.Prefix + "_"
	tail := "_" + n.Suffix
	if len(name) <= len(head)+len(tail) || !strings.HasPrefix(name, head) || !strings.HasSuffix(name, tail) {
		return "", false
	}
	token := name[len(head) : len(name)-len(tail)]
	if !validToken(token) {
		return "", false
	}
	return token, true
}

// Matches reports whether name belongs to this group. Snapshots left by the
// old rotation script count as members too, so they age out like any other.
func (n Namer) Matches(name string) bool {
	if _, ok := n.Token(name); ok {
		return true
	}
	return n.Legacy(name)
}

// Legacy reports whether name is an old script snapshot of this suffix.
func (n Namer) Legacy(name string) bool {
	counter, ok := strings.CutSuffix(name, legacyInfix+n.Suffix)
	if !ok || counter == "" {
		return false
	}
	for _, r := range counter {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func validToken(token string) bool {
	if len(token) != len(tokenLayout) {
		return false
	}
	_, err := time.Parse(tokenLayout, token)
	return err == nil
}

// Next returns a name for a snapshot taken at now that is not in taken.
func (n Namer) Next(now time.Time, taken []types.Snapshot) (string, error) {
	used := make(map[string]struct{}, len(taken))
	for _, s := range taken {
		used[s.Name] = struct{}{}
	}

	at := now.UTC().Truncate(time.Millisecond)
	for i := 0; i < maxCollisions; i++ {
		candidate := n.name(at.Format(tokenLayout))
		if _, ok := used[candidate]; !ok {
			return candidate, nil
		}
		at = at.Add(time.Millisecond)
	}
	return "", fmt.Errorf("no free snapshot name near %s", now.UTC().Format(tokenLayout))
}

// ValidateSuffix rejects suffixes that cannot be part of an rbd snapshot name.
func ValidateSuffix(suffix string) error {
	if suffix == "" {
		return fmt.Errorf("suffix must not be empty")
	}
	if strings.ContainsAny(suffix, "/@ \t\n") {
		return fmt.Errorf("suffix %q must not contain '/', '@' or whitespace", suffix)
	}
	return nil
}

// Group returns the snapshots that belong to the namer's group, oldest
// first. Creation time orders the group, ties fall back to the name.
func Group(all []types.Snapshot, n Namer) []types.Snapshot {
	group := make([]types.Snapshot, 0, len(all))
	for _, s := range all {
		if n.Matches(s.Name) {
			group = append(group, s)
		}
	}
	sortOldestFirst(group)
	return group
}

func sortOldestFirst(snaps []types.Snapshot) {
	sort.SliceStable(snaps, func(i, j int) bool {
		if !snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].CreatedAt.Before(snaps[j].CreatedAt)
		}
		return snaps[i].Name < snaps[j].Name
	})
}
