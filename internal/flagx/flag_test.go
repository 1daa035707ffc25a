package flagx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		allowed []string
		want    []string
	}{
		{
			name:    "separate value",
			args:    []string{"-b", "https://backend.test", "-x", "1"},
			allowed: []string{"-b"},
			want:    []string{"-b", "https://backend.test"},
		},
		{
			name:    "equals form",
			args:    []string{"-l=debug", "-x=1"},
			allowed: []string{"-l"},
			want:    []string{"-l=debug"},
		},
		{
			name:    "trailing flag without value",
			args:    []string{"-d"},
			allowed: []string{"-d"},
			want:    []string{"-d"},
		},
		{
			name:    "next token is another flag",
			args:    []string{"-d", "-l", "warn"},
			allowed: []string{"-d", "-l"},
			want:    []string{"-d", "-l", "warn"},
		},
		{
			name:    "value of a dropped flag is dropped too",
			args:    []string{"-x", "-b", "u"},
			allowed: []string{"-b"},
			want:    []string{"-b", "u"},
		},
		{
			name:    "bare positional ignored",
			args:    []string{"check", "-m", ":9090"},
			allowed: []string{"-m"},
			want:    []string{"-m", ":9090"},
		},
		{
			name:    "nothing allowed",
			args:    []string{"-b", "u"},
			allowed: nil,
			want:    []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterArgs(tt.args, tt.allowed))
		})
	}
}

func TestConfigPath(t *testing.T) {
	assert.Equal(t, "short.json", ConfigPath([]string{"-c", "short.json"}))
	assert.Equal(t, "long.json", ConfigPath([]string{"-b", "u", "-config=long.json"}))
	assert.Equal(t, "dd.json", ConfigPath([]string{"--config", "dd.json"}))
	assert.Equal(t, "2.json", ConfigPath([]string{"-c", "1.json", "-c", "2.json"}))
	assert.Empty(t, ConfigPath([]string{"-l", "debug"}))
	assert.Empty(t, ConfigPath(nil))
}
