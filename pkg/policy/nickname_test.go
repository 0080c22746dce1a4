package policy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidNickname(t *testing.T) {
	valid := []string{
		"john",
		"abc",
		"a1b",
		"john_doe",
		"john-doe",
		"j0hn-d03-x",
		"a_1_b",
		"abcdefghijklmnopqrstuvwxyz0123", // 30 chars
	}
	for _, name := range valid {
		assert.True(t, ValidNickname(name), "expected %q to be valid", name)
	}

	invalid := []string{
		"",
		"jo",                              // too short
		strings.Repeat("a", 31),           // too long
		"John",                            // uppercase
		"_john",                           // leading special
		"john_",                           // trailing special
		"-john",                           // leading special
		"john-",                           // trailing special
		"jo__hn",                          // special not followed by alnum
		"jo--hn",                          // special not followed by alnum
		"jo-_hn",                          // special not followed by alnum
		"john doe",                        // space
		"john.doe",                        // period
		"jöhn",                       // non-ascii
		"a" + strings.Repeat("b", 29) + "c", // 31 chars
	}
	for _, name := range invalid {
		assert.False(t, ValidNickname(name), "expected %q to be invalid", name)
	}
}

func TestParseAddress(t *testing.T) {
	local, domain, err := ParseAddress("john@example.com")
	require.NoError(t, err)
	assert.Equal(t, "john", local)
	assert.Equal(t, "example.com", domain)

	local, domain, err = ParseAddress("john")
	require.NoError(t, err)
	assert.Equal(t, "john", local)
	assert.Equal(t, "", domain)

	bad := []string{
		"",
		"@example.com",
		".john@example.com",
		"john.@example.com",
		"jo..hn@example.com",
		"first@last@example.com",
		"first last@example.com",
		strings.Repeat("a", 321),
	}
	for _, addr := range bad {
		_, _, err := ParseAddress(addr)
		assert.Error(t, err, "expected %q to be rejected", addr)
	}
}

func TestExtractNickname(t *testing.T) {
	nick, err := ExtractNickname("John@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "john", nick)

	nick, err = ExtractNickname("jane.doe@example.com")
	require.NoError(t, err)
	assert.Equal(t, "jane.doe", nick)
}
