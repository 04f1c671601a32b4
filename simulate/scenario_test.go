package simulate

import (
	"testing"

	"vanguard/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestParseScenario(t *testing.T) {
	data := []byte(`
type: credential_stuffing
intensity: high
target_assets:
  - web-01
  - web-02
templates:
  - type: auth.failure
    source: auth-service
    severity: medium
    expects_detection: true
    fields:
      username: admin
  - type: auth.success
    severity: low
    tags: [simulated]
`)

	sc, err := ParseScenario(data)
	require.NoError(t, err)
	assert.Equal(t, "credential_stuffing", sc.Type)
	assert.Equal(t, IntensityHigh, sc.Intensity)
	assert.Equal(t, []string{"web-01", "web-02"}, sc.TargetAssets)
	require.Len(t, sc.Templates, 2)
	assert.True(t, sc.Templates[0].ExpectsDetection)
	assert.Equal(t, "admin", sc.Templates[0].Fields["username"])
	assert.Equal(t, []string{"simulated"}, sc.Templates[1].Tags)
}

func TestParseScenario_NoTemplates(t *testing.T) {
	_, err := ParseScenario([]byte(`type: empty`))
	assert.Error(t, err)
}

func TestParseScenario_BadYAML(t *testing.T) {
	_, err := ParseScenario([]byte(`{{{`))
	assert.Error(t, err)
}

func TestValidateScenario_UnknownSeverity(t *testing.T) {
	sc := core.Scenario{
		Templates: []core.EventTemplate{{Type: "t", Severity: core.Severity("apocalyptic")}},
	}
	err := ValidateScenario(&sc)
	assert.ErrorContains(t, err, "severity")
}

func TestValidateScenario_UntypedTemplate(t *testing.T) {
	sc := core.Scenario{
		Templates: []core.EventTemplate{{Source: "somewhere"}},
	}
	err := ValidateScenario(&sc)
	assert.Error(t, err)
}

func TestIntensityLimit(t *testing.T) {
	assert.Equal(t, rate.Limit(1), intensityLimit(IntensityLow))
	assert.Equal(t, rate.Limit(5), intensityLimit(IntensityMedium))
	assert.Equal(t, rate.Limit(20), intensityLimit(IntensityHigh))
	assert.Equal(t, rate.Limit(5), intensityLimit("unspecified"))
}
