package mqttsync

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/u3640877/transitive/internal/datacache"
	"github.com/u3640877/transitive/internal/topics"
)

// versionSegment is the index of the version segment in the capability
// topic schema /org/device/@scope/capability/version/sub…
const versionSegment = 4

// Migration describes one version-namespace migration: all data retained
// under past versions of Topic's capability is merged and re-published
// under NewVersion, then the obsolete version namespaces are cleared.
type Migration struct {
	// Topic is a selector whose segments follow the capability schema up
	// to and including the version slot. Wildcards are allowed before the
	// version segment but not after.
	Topic string

	// NewVersion is the namespace the merged data is written to. Versions
	// greater than it are neither merged nor cleared.
	NewVersion string

	// Transform, when set, rewrites the merged value before publication.
	Transform func(value any) any

	// Flat publishes every leaf of the result as its own retained
	// message. When false, Level controls the publication granularity.
	Flat bool

	// Level is the depth at which subdocuments are published atomically:
	// 0 publishes the whole result at the target topic, 1 publishes each
	// child separately, and so on. Ignored when Flat is set.
	Level int
}

// Migrate runs the given migrations concurrently and calls done once all
// of them have completed. An empty list completes immediately. A denied
// subscription logs and completes that item without effect so the overall
// run can still finish.
func (s *Sync) Migrate(items []Migration, done func()) {
	if len(items) == 0 {
		if done != nil {
			done()
		}
		return
	}

	var mu sync.Mutex
	remaining := len(items)
	itemDone := func() {
		mu.Lock()
		remaining--
		finished := remaining == 0
		mu.Unlock()
		if finished && done != nil {
			done()
		}
	}

	for _, item := range items {
		s.migrateOne(item, itemDone)
	}
}

// migrateOne drives a single migration: subscribe all versions, wait for
// retained arrival, merge and re-publish, then clear the old namespaces.
func (s *Sync) migrateOne(m Migration, done func()) {
	path := topics.TopicToPath(m.Topic)
	if len(path) <= versionSegment {
		s.log.Error("migration topic too short", "topic", m.Topic)
		done()
		return
	}
	prefix := path[:versionSegment]
	suffix := path[versionSegment+1:]

	allVersions := make([]string, 0, len(path))
	allVersions = append(allVersions, prefix...)
	allVersions = append(allVersions, "+")
	allVersions = append(allVersions, suffix...)
	selector := topics.PathToTopic(allVersions)

	s.Subscribe(selector, func(err error) {
		if err != nil {
			s.log.Warn("migration subscribe failed", "selector", selector, "error", err)
			done()
			return
		}
		s.WaitForHeartbeatOnce(func() {
			s.runMigration(m, prefix, suffix, selector, done)
		})
	})
}

// runMigration merges and republishes the data for every concrete
// grounded prefix currently in the cache, then schedules the clears.
func (s *Sync) runMigration(m Migration, prefix, suffix []string, selector string, done func()) {
	var clearTargets []string

	s.Data.ForPathMatch(prefix, func(value any, grounded []string, _ map[string]string) {
		byVersion, ok := value.(map[string]any)
		if !ok {
			return
		}

		versions := make([]string, 0, len(byVersion))
		for v := range byVersion {
			if compareVersions(v, m.NewVersion) <= 0 {
				versions = append(versions, v)
			}
		}
		sort.Slice(versions, func(i, j int) bool {
			return compareVersions(versions[i], versions[j]) < 0
		})

		merged := map[string]any{}
		for _, v := range versions {
			if doc, ok := byVersion[v].(map[string]any); ok {
				deepMerge(merged, doc)
			}
		}

		result := valueAt(merged, suffix)
		if m.Transform != nil {
			result = m.Transform(result)
		}

		if result != nil {
			target := make([]string, 0, len(grounded)+1+len(suffix))
			target = append(target, grounded...)
			target = append(target, m.NewVersion)
			target = append(target, suffix...)
			s.publishMigrated(topics.PathToTopic(target), result, m)
		}

		for _, v := range versions {
			if compareVersions(v, m.NewVersion) < 0 {
				old := make([]string, 0, len(grounded)+1+len(suffix))
				old = append(old, grounded...)
				old = append(old, v)
				old = append(old, suffix...)
				clearTargets = append(clearTargets, topics.PathToTopic(old))
			}
		}
	})

	if err := s.Unsubscribe(selector); err != nil {
		s.log.Debug("migration unsubscribe", "selector", selector, "error", err)
	}

	s.WaitForHeartbeatOnce(func() {
		s.Clear(clearTargets, func(count int) {
			s.log.Info("migration complete",
				"topic", m.Topic,
				"new_version", m.NewVersion,
				"cleared", count,
			)
			done()
		}, ClearOptions{})
	})
}

// publishMigrated writes the merged result retained, either leaf-by-leaf
// or at the configured atomic level.
func (s *Sync) publishMigrated(topic string, value any, m Migration) {
	if m.Flat {
		for _, ch := range datacache.Flatten(nil, value) {
			s.publishRetained(topic+"/"+ch.Topic, ch.Value)
		}
		return
	}
	s.publishAtLevel(topic, value, m.Level)
}

// publishAtLevel descends level layers into value, publishing each
// subdocument reached there as one atomic retained payload.
func (s *Sync) publishAtLevel(topic string, value any, level int) {
	m, ok := value.(map[string]any)
	if level <= 0 || !ok {
		s.publishRetained(topic, value)
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.publishAtLevel(topic+"/"+topics.EncodeSegment(k), m[k], level-1)
	}
}

// publishRetained sends one retained value directly, bypassing the
// publication queue; migration traffic is not part of any published
// selector's region.
func (s *Sync) publishRetained(topic string, value any) {
	payload, err := encodePayload(value)
	if err != nil {
		s.log.Error("encoding migrated value failed", "topic", topic, "error", err)
		return
	}
	if err := s.client.Publish(topic, payload, s.qos, true); err != nil {
		s.log.Warn("publishing migrated value failed", "topic", topic, "error", err)
	}
}

// valueAt resolves path inside a plain document.
func valueAt(doc map[string]any, path []string) any {
	var node any = doc
	for _, seg := range path {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return node
}

// deepMerge merges src into dst, descending into maps and letting src win
// per leaf.
func deepMerge(dst, src map[string]any) {
	for k, sv := range src {
		if sm, ok := sv.(map[string]any); ok {
			dm, ok := dst[k].(map[string]any)
			if !ok {
				dm = map[string]any{}
				dst[k] = dm
			}
			deepMerge(dm, sm)
			continue
		}
		dst[k] = sv
	}
}

// compareVersions orders two dotted version strings numerically. A
// missing or unparseable part sorts below every specified part, so a
// partially specified version is treated as its minimum possible
// version.
func compareVersions(a, b string) int {
	as := strings.Split(strings.TrimSpace(a), ".")
	bs := strings.Split(strings.TrimSpace(b), ".")
	for i := 0; i < 3; i++ {
		av, bv := versionPart(as, i), versionPart(bs, i)
		if av < bv {
			return -1
		}
		if av > bv {
			return 1
		}
	}
	return 0
}

func versionPart(parts []string, i int) int {
	if i >= len(parts) {
		return -1
	}
	n, err := strconv.Atoi(parts[i])
	if err != nil {
		return -1
	}
	return n
}
