package job

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKeyValidation(t *testing.T) {
	t.Parallel()

	_, err := NewKey("", "g")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidIdentity))

	k, err := NewKey("a", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultGroup, k.Group())
	assert.Equal(t, "a", k.Name())
	assert.False(t, k.IsZero())
	assert.True(t, Key{}.IsZero())
}

func TestMustKeyPanics(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { MustKey("", "g") })
}

func TestKeyEquality(t *testing.T) {
	t.Parallel()

	assert.Equal(t, MustKey("a", "g"), MustKey("a", "g"))
	assert.True(t, MustKey("a", "g") == MustKey("a", "g"))
	assert.False(t, MustKey("a", "g").Equal(MustKey("b", "g")))
	assert.False(t, MustKey("a", "g").Equal(MustKey("a", "h")))
	assert.True(t, MustKey("a", "").Equal(MustKey("a", DefaultGroup)))

	m := map[Key]int{MustKey("a", "g"): 1}
	assert.Equal(t, 1, m[MustKey("a", "g")])
}

func TestQualifiedName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "ops.backup", MustKey("backup", "ops").QualifiedName())
	assert.Equal(t, DefaultGroup+".x", MustKey("x", "").String())
}

func TestCompareDefaultGroupFirst(t *testing.T) {
	t.Parallel()

	def := MustKey("zzz", "")
	other := MustKey("aaa", "AAA")
	assert.Equal(t, -1, def.Compare(other))
	assert.Equal(t, 1, other.Compare(def))
	assert.True(t, def.Less(other))
}

func TestCompareTotalOrder(t *testing.T) {
	t.Parallel()

	keys := []Key{
		MustKey("b", ""),
		MustKey("a", ""),
		MustKey("a", "alpha"),
		MustKey("b", "alpha"),
		MustKey("a", "beta"),
		MustKey("a", "Zeta"),
		MustKey("c", DefaultGroup),
	}

	for _, a := range keys {
		assert.Equal(t, 0, a.Compare(a), "reflexive %s", a)
		for _, b := range keys {
			ab := a.Compare(b)
			ba := b.Compare(a)
			assert.Equal(t, -ab, ba, "antisymmetric %s %s", a, b)
			if ab == 0 {
				assert.Equal(t, a, b)
			}
			for _, c := range keys {
				if a.Less(b) && b.Less(c) {
					assert.True(t, a.Less(c), "transitive %s < %s < %s", a, b, c)
				}
			}
		}
	}
}

func TestSortKeys(t *testing.T) {
	t.Parallel()

	keys := []Key{
		MustKey("x", "ops"),
		MustKey("b", ""),
		MustKey("a", "dev"),
		MustKey("a", ""),
	}
	SortKeys(keys)

	got := make([]string, 0, len(keys))
	for _, k := range keys {
		got = append(got, k.QualifiedName())
	}
	assert.Equal(t, []string{
		DefaultGroup + ".a",
		DefaultGroup + ".b",
		"dev.a",
		"ops.x",
	}, got)
}

func TestCreateUniqueName(t *testing.T) {
	t.Parallel()

	a := CreateUniqueName("ops")
	b := CreateUniqueName("ops")
	c := CreateUniqueName("dev")

	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, UniqueNamePrefix("ops")+"-"))
	assert.True(t, strings.HasPrefix(b, UniqueNamePrefix("ops")+"-"))
	assert.True(t, strings.HasPrefix(c, UniqueNamePrefix("dev")+"-"))
	assert.NotEqual(t, UniqueNamePrefix("ops"), UniqueNamePrefix("dev"))
	assert.Len(t, UniqueNamePrefix("ops"), 12)

	assert.Equal(t, UniqueNamePrefix(DefaultGroup), UniqueNamePrefix(""))

	// Same bytes as java.util.UUID.nameUUIDFromBytes("ops".getBytes()).
	assert.Equal(t, "e8478978-26ce-3834-aeb5-141f8c23436a", nameUUID([]byte("ops")).String())
	assert.Equal(t, "141f8c23436a", UniqueNamePrefix("ops"))
	assert.Equal(t, "e38f48e5b46d", UniqueNamePrefix(""))
	assert.Equal(t, 3, int(nameUUID([]byte("ops")).Version()))
	_, err := NewKey(a, "ops")
	require.NoError(t, err)
}
