package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type check struct {
	input string
	ok    bool
}

func runChecks(t *testing.T, fn func(string) error, cases map[string]check) {
	t.Helper()
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := fn(tc.input)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidatePassword(t *testing.T) {
	t.Parallel()
	runChecks(t, ValidatePassword, map[string]check{
		"seed password":   {"Password123!", true},
		"max length":      {"A" + strings.Repeat("b", 125) + "1!", true},
		"unicode letters": {"ÅngströmChat1!", true},
		"too short":       {"Chat12!x", false},
		"too long":        {"A" + strings.Repeat("b", 126) + "1!", false},
		"no upper":        {"chatterbox12!", false},
		"no lower":        {"CHATTERBOX12!", false},
		"no digit":        {"Chatterbox!!", false},
		"no special":      {"Chatterbox123", false},
		"no letters":      {"1234567890!@", false},
	})
}

func TestValidateUsername(t *testing.T) {
	t.Parallel()
	runChecks(t, ValidateUsername, map[string]check{
		"plain":           {"alice", true},
		"with separators": {"bob_the-builder42", true},
		"max length":      {strings.Repeat("a", 30), true},
		"too short":       {"al", false},
		"too long":        {strings.Repeat("a", 31), false},
		"at sign":         {"alice@home", false},
		"space":           {"alice b", false},
		"leading dash":    {"-alice", false},
		"trailing under":  {"alice_", false},
	})
}

func TestValidateEmail(t *testing.T) {
	t.Parallel()
	longest := strings.Repeat("a", 64) + "@" + strings.Repeat("b", 185) + ".com"
	runChecks(t, ValidateEmail, map[string]check{
		"plain":          {"alice@chatterbox.dev", true},
		"plus tag":       {"alice+chats@mail.example.org", true},
		"254 characters": {longest, true},
		"255 characters": {"a" + longest, false},
		"no at":          {"alice.chatterbox.dev", false},
		"no domain":      {"alice@", false},
		"double at":      {"alice@@chatterbox.dev", false},
		"space":          {"ali ce@chatterbox.dev", false},
		"trailing dot":   {"alice@chatterbox.dev.", false},
	})
}
