package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hawklight/vulnreport/internal/models"
)

func newClassifier(t *testing.T, rules ...models.ClassificationRule) *DeviceClassifier {
	t.Helper()
	c, err := NewDeviceClassifier(rules)
	require.NoError(t, err)
	return c
}

func TestClassifyBuiltins(t *testing.T) {
	c := newClassifier(t)

	cases := []struct {
		os       string
		expected models.DeviceCategory
	}{
		{"Microsoft Windows Server 2022 Datacenter", models.DeviceServer},
		{"Windows Server 2019 Standard", models.DeviceServer},
		{"Microsoft Windows 10 Enterprise", models.DeviceWorkstation},
		{"Microsoft Windows 11 Pro", models.DeviceWorkstation},
		{"Ubuntu 22.04.3 LTS", models.DeviceServer},
		{"Ubuntu Desktop 22.04", models.DeviceWorkstation},
		{"Red Hat Enterprise Linux 8.4", models.DeviceServer},
		{"CentOS Linux 7", models.DeviceServer},
		{"VMware ESXi 7.0.3", models.DeviceServer},
		{"Cisco IOS 15.2", models.DeviceNetwork},
		{"Juniper JUNOS 21.2", models.DeviceNetwork},
		{"FortiGate Firewall", models.DeviceNetwork},
		{"macOS 14.2", models.DeviceWorkstation},
		{"BeOS R5", models.DeviceUnknown},
		{"", models.DeviceUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.expected, c.Classify(tc.os), "os: %q", tc.os)
	}
}

func TestFallbackServerKeyword(t *testing.T) {
	c := newClassifier(t)

	category, rule := c.Test("Custom Appliance Server OS 3.1")
	assert.Equal(t, models.DeviceServer, category)
	assert.Nil(t, rule, "fallback matches report no rule")

	category, _ = c.Test("Server-grade Desktop Build")
	assert.Equal(t, models.DeviceUnknown, category)
}

func TestUserRuleBeatsBuiltin(t *testing.T) {
	c := newClassifier(t, models.ClassificationRule{
		Pattern:  "ubuntu",
		Category: models.DeviceWorkstation,
		Origin:   models.OriginUser,
	})

	category, rule := c.Test("Ubuntu 22.04.3 LTS")
	assert.Equal(t, models.DeviceWorkstation, category)
	require.NotNil(t, rule)
	assert.Equal(t, models.OriginUser, rule.Origin)
}

func TestLongerPatternWins(t *testing.T) {
	c := newClassifier(t)

	// "fedora workstation" is longer than "fedora" and must match first.
	assert.Equal(t, models.DeviceWorkstation, c.Classify("Fedora Workstation 39"))
	assert.Equal(t, models.DeviceServer, c.Classify("Fedora 39"))
}

func TestClassifyDeterministic(t *testing.T) {
	c := newClassifier(t)
	first := c.Classify("Microsoft Windows Server 2016 Datacenter")
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, c.Classify("Microsoft Windows Server 2016 Datacenter"))
	}
}

func TestAddRemoveRule(t *testing.T) {
	c := newClassifier(t)

	require.NoError(t, c.AddRule(`appliance`, models.DeviceNetwork))
	assert.Equal(t, models.DeviceNetwork, c.Classify("Vendor Appliance 2.0"))
	assert.Len(t, c.ListRules(), 1)

	assert.True(t, c.RemoveRule("appliance"))
	assert.False(t, c.RemoveRule("appliance"))
	assert.Equal(t, models.DeviceUnknown, c.Classify("Vendor Appliance 2.0"))
}

func TestMatchedRuleSurvivesTableMutation(t *testing.T) {
	c := newClassifier(t,
		models.ClassificationRule{
			Pattern:  "ubuntu",
			Category: models.DeviceWorkstation,
			Origin:   models.OriginUser,
		},
		models.ClassificationRule{
			Pattern:  "fedora",
			Category: models.DeviceServer,
			Origin:   models.OriginUser,
		},
	)

	_, rule := c.Test("Ubuntu 22.04.3 LTS")
	require.NotNil(t, rule)

	// Removing the matched rule compacts the user table in place and
	// re-sorting after AddRule reorders it. Neither may change what the
	// held rule says matched.
	assert.True(t, c.RemoveRule("ubuntu"))
	require.NoError(t, c.AddRule(`windows embedded`, models.DeviceNetwork))

	assert.Equal(t, "ubuntu", rule.Pattern)
	assert.Equal(t, models.DeviceWorkstation, rule.Category)
	assert.Equal(t, models.OriginUser, rule.Origin)
}

func TestInvalidUserPatternRejected(t *testing.T) {
	_, err := NewDeviceClassifier([]models.ClassificationRule{
		{Pattern: `[unclosed`, Category: models.DeviceServer},
	})
	assert.Error(t, err)
}
