package conf

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_MarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		duration Duration
		expected string
	}{
		{"zero", 0, `"0s"`},
		{"five minutes", Duration(5 * time.Minute), `"5m0s"`},
		{"day", Duration(24 * time.Hour), `"24h0m0s"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, err := json.Marshal(tt.duration)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(b))
		})
	}
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected Duration
		wantErr  bool
	}{
		{"string", `"90m"`, Duration(90 * time.Minute), false},
		{"nanoseconds number", `1000000000`, Duration(time.Second), false},
		{"null", `null`, 0, false},
		{"garbage string", `"soon"`, 0, true},
		{"bool", `true`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := Duration(time.Hour)
			err := json.Unmarshal([]byte(tt.input), &d)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, d)
		})
	}
}

func TestDuration_YAML(t *testing.T) {
	t.Parallel()

	type wrapper struct {
		TTL Duration `yaml:"ttl"`
	}

	out, err := yaml.Marshal(wrapper{TTL: Duration(2 * time.Hour)})
	require.NoError(t, err)
	assert.Contains(t, string(out), "ttl: 2h0m0s")

	var w wrapper
	require.NoError(t, yaml.Unmarshal([]byte("ttl: 300000000000\n"), &w))
	assert.Equal(t, Duration(5*time.Minute), w.TTL)

	require.Error(t, yaml.Unmarshal([]byte("ttl: [1, 2]\n"), &w))
	require.Error(t, yaml.Unmarshal([]byte("ttl: later\n"), &w))
}

func TestDurationDecodeHook(t *testing.T) {
	t.Parallel()

	var out struct {
		Warn  Duration      `mapstructure:"warn"`
		Close Duration      `mapstructure:"close"`
		Plain time.Duration `mapstructure:"plain"`
		Tags  []string      `mapstructure:"tags"`
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: DurationDecodeHook(),
		Result:     &out,
	})
	require.NoError(t, err)

	require.NoError(t, dec.Decode(map[string]any{
		"warn":  "60m",
		"close": int64(2 * time.Hour),
		"plain": "30s",
		"tags":  "a,b",
	}))

	assert.Equal(t, Duration(time.Hour), out.Warn)
	assert.Equal(t, Duration(2*time.Hour), out.Close)
	assert.Equal(t, 30*time.Second, out.Plain)
	assert.Equal(t, []string{"a", "b"}, out.Tags)
}

func TestDuration_Std(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 3*time.Second, Duration(3*time.Second).Std())
}
