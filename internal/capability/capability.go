// Package capability scopes a sync instance to one capability's namespace
// in the /org/device/@scope/name/version topic schema.
package capability

import (
	"errors"
	"fmt"
	"strings"

	"github.com/u3640877/transitive/internal/mqttsync"
	"github.com/u3640877/transitive/internal/topics"
)

// Identity names one capability instance on one device.
type Identity struct {
	Org     string
	Device  string
	Scope   string // with leading '@'
	Name    string
	Version string
}

// Errors for topic parsing.
var (
	ErrTopicTooShort = errors.New("capability: topic has fewer segments than the schema")
	ErrBadScope      = errors.New("capability: scope segment must start with '@'")
)

// ParseTopic splits a concrete topic following the capability schema
// /org/device/@scope/name/version/sub… into its identity and sub-path.
func ParseTopic(topic string) (Identity, []string, error) {
	path := topics.TopicToPath(topic)
	if len(path) < 5 {
		return Identity{}, nil, fmt.Errorf("%w: %q", ErrTopicTooShort, topic)
	}
	if !strings.HasPrefix(path[2], "@") {
		return Identity{}, nil, fmt.Errorf("%w: %q", ErrBadScope, path[2])
	}
	id := Identity{
		Org:     path[0],
		Device:  path[1],
		Scope:   path[2],
		Name:    path[3],
		Version: path[4],
	}
	return id, path[5:], nil
}

// Capability is a sync handle scoped under one capability namespace. It
// holds the shared Sync by composition; all topics it touches live below
// its prefix.
type Capability struct {
	id   Identity
	sync *mqttsync.Sync
}

// New scopes sync to the given identity.
func New(sync *mqttsync.Sync, id Identity) *Capability {
	return &Capability{id: id, sync: sync}
}

// Identity returns the capability's identity.
func (c *Capability) Identity() Identity {
	return c.id
}

// Sync exposes the underlying sync instance for operations outside the
// capability's namespace.
func (c *Capability) Sync() *mqttsync.Sync {
	return c.sync
}

// PrefixPath returns the path of the capability's namespace root.
func (c *Capability) PrefixPath() []string {
	return []string{c.id.Org, c.id.Device, c.id.Scope, c.id.Name, c.id.Version}
}

// Prefix returns the wire form of the namespace root.
func (c *Capability) Prefix() string {
	return topics.PathToTopic(c.PrefixPath())
}

// Topic builds a concrete topic below the capability's prefix.
func (c *Capability) Topic(sub ...string) string {
	return topics.PathToTopic(append(c.PrefixPath(), sub...))
}

// Update writes a value below the capability's prefix.
func (c *Capability) Update(sub []string, value any) {
	c.sync.Data.Update(append(c.PrefixPath(), sub...), value, nil)
}

// Get reads a value below the capability's prefix.
func (c *Capability) Get(sub ...string) any {
	return c.sync.Data.Get(append(c.PrefixPath(), sub...))
}

// PublishAll registers the whole capability namespace for publication.
func (c *Capability) PublishAll(opts mqttsync.PublishOptions) (bool, error) {
	return c.sync.Publish(c.Prefix()+"/#", opts)
}

// SubscribeAll subscribes the whole capability namespace.
func (c *Capability) SubscribeAll(cb func(err error)) {
	c.sync.Subscribe(c.Prefix()+"/#", cb)
}

// Register installs an RPC handler on a command topic below the prefix.
func (c *Capability) Register(command string, handler mqttsync.Handler) {
	c.sync.Register(c.Topic(command), handler)
}

// Call invokes another instance's command below the same prefix.
func (c *Capability) Call(command string, args any, cb func(result any)) {
	c.sync.Call(c.Topic(command), args, cb)
}
