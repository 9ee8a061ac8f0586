package classify

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hawklight/vulnreport/internal/models"
)

// Rule is one compiled classification rule. User-defined rules always
// outrank built-ins; among rules of equal origin, the longer pattern
// wins, then insertion order.
type Rule struct {
	Pattern  string
	Category models.DeviceCategory
	Origin   models.RuleOrigin

	re    *regexp.Regexp
	index int
}

// builtinRules is the compiled-in pattern table. Specific patterns
// only; the bare "server" keyword is left to the fallback heuristic.
var builtinRules = []struct {
	pattern  string
	category models.DeviceCategory
}{
	{`windows\s+server`, models.DeviceServer},
	{`windows\s+20(08|12|16|19|22|25)`, models.DeviceServer},
	{`ubuntu\s+server`, models.DeviceServer},
	{`ubuntu\s+desktop`, models.DeviceWorkstation},
	{`ubuntu`, models.DeviceServer},
	{`red\s+hat`, models.DeviceServer},
	{`rhel`, models.DeviceServer},
	{`centos`, models.DeviceServer},
	{`rocky\s+linux`, models.DeviceServer},
	{`almalinux`, models.DeviceServer},
	{`debian`, models.DeviceServer},
	{`fedora\s+workstation`, models.DeviceWorkstation},
	{`fedora`, models.DeviceServer},
	{`oracle\s+linux`, models.DeviceServer},
	{`suse`, models.DeviceServer},
	{`opensuse`, models.DeviceServer},
	{`amazon\s+linux`, models.DeviceServer},
	{`arch\s+linux`, models.DeviceServer},
	{`kali\s+linux`, models.DeviceServer},
	{`vmware\s+esxi`, models.DeviceServer},
	{`esxi`, models.DeviceServer},
	{`linux`, models.DeviceServer},
	{`windows\s+10`, models.DeviceWorkstation},
	{`windows\s+11`, models.DeviceWorkstation},
	{`windows\s+7`, models.DeviceWorkstation},
	{`windows\s+8`, models.DeviceWorkstation},
	{`windows\s+xp`, models.DeviceWorkstation},
	{`macos`, models.DeviceWorkstation},
	{`mac\s+os`, models.DeviceWorkstation},
	{`cisco`, models.DeviceNetwork},
	{`juniper`, models.DeviceNetwork},
	{`fortinet`, models.DeviceNetwork},
	{`palo\s+alto`, models.DeviceNetwork},
	{`router`, models.DeviceNetwork},
	{`switch`, models.DeviceNetwork},
	{`firewall`, models.DeviceNetwork},
}

// DeviceClassifier maps an operating-system string to a device
// category. Built-ins are immutable; only the user table mutates.
type DeviceClassifier struct {
	user    []Rule
	builtin []Rule
}

// NewDeviceClassifier compiles the built-in table and the given
// user-defined rules. Invalid user patterns are an error.
func NewDeviceClassifier(userRules []models.ClassificationRule) (*DeviceClassifier, error) {
	c := &DeviceClassifier{}

	for i, b := range builtinRules {
		c.builtin = append(c.builtin, Rule{
			Pattern:  b.pattern,
			Category: b.category,
			Origin:   models.OriginBuiltin,
			re:       regexp.MustCompile(`(?i)` + b.pattern),
			index:    i,
		})
	}
	sortRules(c.builtin)

	for _, r := range userRules {
		if err := c.AddRule(r.Pattern, r.Category); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// sortRules orders a rule table longest-pattern-first; the stable sort
// preserves insertion order for equal lengths.
func sortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if len(rules[i].Pattern) != len(rules[j].Pattern) {
			return len(rules[i].Pattern) > len(rules[j].Pattern)
		}
		return rules[i].index < rules[j].index
	})
}

// Classify maps an OS string to a device category. The result is fully
// deterministic for a given rule table.
func (c *DeviceClassifier) Classify(osString string) models.DeviceCategory {
	category, _ := c.Test(osString)
	return category
}

// Test runs the same classification as Classify and additionally
// reports which rule matched, for diagnostics. Nil means the fallback
// heuristic (or unknown) decided.
func (c *DeviceClassifier) Test(osString string) (models.DeviceCategory, *Rule) {
	if strings.TrimSpace(osString) == "" {
		return models.DeviceUnknown, nil
	}

	// Returned rules are copies: AddRule re-sorts and RemoveRule
	// compacts the live tables underneath any pointer into them.
	for i := range c.user {
		if c.user[i].re.MatchString(osString) {
			matched := c.user[i]
			return matched.Category, &matched
		}
	}
	for i := range c.builtin {
		if c.builtin[i].re.MatchString(osString) {
			matched := c.builtin[i]
			return matched.Category, &matched
		}
	}

	// Fallback heuristic: a "server" mention with no desktop or
	// workstation wording.
	lower := strings.ToLower(osString)
	if strings.Contains(lower, "server") &&
		!strings.Contains(lower, "desktop") &&
		!strings.Contains(lower, "workstation") {
		return models.DeviceServer, nil
	}

	return models.DeviceUnknown, nil
}

// AddRule appends a user-defined rule. The user table is re-ordered
// longest-pattern-first after every mutation.
func (c *DeviceClassifier) AddRule(pattern string, category models.DeviceCategory) error {
	re, err := regexp.Compile(`(?i)` + pattern)
	if err != nil {
		return fmt.Errorf("invalid classification pattern %q: %w", pattern, err)
	}
	c.user = append(c.user, Rule{
		Pattern:  pattern,
		Category: category,
		Origin:   models.OriginUser,
		re:       re,
		index:    len(c.user),
	})
	sortRules(c.user)
	return nil
}

// RemoveRule deletes a user-defined rule by pattern. Built-ins cannot
// be removed.
func (c *DeviceClassifier) RemoveRule(pattern string) bool {
	for i := range c.user {
		if c.user[i].Pattern == pattern {
			c.user = append(c.user[:i], c.user[i+1:]...)
			return true
		}
	}
	return false
}

// ListRules returns a copy of the user-defined rule table in match order.
func (c *DeviceClassifier) ListRules() []Rule {
	out := make([]Rule, len(c.user))
	copy(out, c.user)
	return out
}
