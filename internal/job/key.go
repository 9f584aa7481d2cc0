package job

import (
	"crypto/md5"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// DefaultGroup is used when a key is created without a group.
const DefaultGroup = "DEFAULT_GROUP"

var ErrInvalidIdentity = errors.New("invalid job identity")

// Key identifies a job by (group, name).
//
// Key is comparable: two keys are == iff both name and group match, so it is
// safe to use as a map key. The zero Key is not valid; use NewKey.
type Key struct {
	name  string
	group string
}

// NewKey validates name and normalizes an empty group to DefaultGroup.
func NewKey(name, group string) (Key, error) {
	if name == "" {
		return Key{}, fmt.Errorf("%w: name required", ErrInvalidIdentity)
	}
	if group == "" {
		group = DefaultGroup
	}
	return Key{name: name, group: group}, nil
}

// MustKey is NewKey for literals. It panics on an empty name.
func MustKey(name, group string) Key {
	k, err := NewKey(name, group)
	if err != nil {
		panic(err)
	}
	return k
}

func (k Key) Name() string  { return k.name }
func (k Key) Group() string { return k.group }

// IsZero reports whether k was never initialized through NewKey.
func (k Key) IsZero() bool { return k.name == "" }

func (k Key) Equal(o Key) bool { return k == o }

// QualifiedName returns "group.name", the registry key of a worker.
func (k Key) QualifiedName() string { return k.group + "." + k.name }

func (k Key) String() string { return k.QualifiedName() }

// Compare orders keys: the default group first, then by group, then by name.
func (k Key) Compare(o Key) int {
	kd := k.group == DefaultGroup
	od := o.group == DefaultGroup
	if kd && !od {
		return -1
	}
	if !kd && od {
		return 1
	}
	if r := strings.Compare(k.group, o.group); r != 0 {
		return r
	}
	return strings.Compare(k.name, o.name)
}

func (k Key) Less(o Key) bool { return k.Compare(o) < 0 }

// SortKeys sorts keys in place using Key.Compare.
func SortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}

// UniqueNamePrefix returns the deterministic half of CreateUniqueName for group.
func UniqueNamePrefix(group string) string {
	if group == "" {
		group = DefaultGroup
	}
	return nameUUID([]byte(group)).String()[24:]
}

// nameUUID is a version 3 UUID over data alone, without a namespace, so the
// same group yields the same prefix as java.util.UUID.nameUUIDFromBytes.
func nameUUID(data []byte) uuid.UUID {
	u := uuid.UUID(md5.Sum(data))
	u[6] = u[6]&0x0f | 0x30
	u[8] = u[8]&0x3f | 0x80
	return u
}

// CreateUniqueName derives a name for an unnamed job in group.
//
// The result is "<group hash>-<random uuid>". It is practically unique, not
// globally unique: the random half is a v4 UUID and the prefix only depends
// on the group.
func CreateUniqueName(group string) string {
	return UniqueNamePrefix(group) + "-" + uuid.NewString()
}
