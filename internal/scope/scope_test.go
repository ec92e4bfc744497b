package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCanonicalises(t *testing.T) {
	s := New("DP-2", " HDMI-A-1", "DP-2", "", "DP-1")
	assert.Equal(t, []string{"DP-1", "DP-2", "HDMI-A-1"}, s.IDs())
	assert.False(t, s.All())
	assert.Equal(t, "DP-1,DP-2,HDMI-A-1", s.String())
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name   string
		set    Set
		output string
		want   bool
	}{
		{"empty set matches anything", New(), "DP-1", true},
		{"empty set matches empty output", New(), "", true},
		{"member", New("DP-1", "DP-2"), "DP-2", true},
		{"non member", New("DP-1"), "DP-2", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.set.Matches(tt.output))
			assert.Equal(t, tt.want, Matches(tt.output, tt.set))
		})
	}
}

func TestEqualIsExact(t *testing.T) {
	assert.False(t, New("A", "B").Equal(New("A")))
	assert.False(t, New("A").Equal(New("A", "B")))
	assert.False(t, New().Equal(New("A")))
	assert.True(t, New().Equal(New()))
	assert.True(t, New("B", "A").Equal(New("A", "B", "A")))
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{AllOutputs}, New().Tokens())
	assert.Equal(t, []string{"A", "B"}, New("B", "A").Tokens())
}

func TestKey(t *testing.T) {
	assert.Equal(t, "all", New().Key())
	assert.Equal(t, New("A", "B").Key(), New("B", "A").Key())
	assert.NotEqual(t, New("A").Key(), New("A", "B").Key())
	assert.Len(t, New("A").Key(), 16)
}
