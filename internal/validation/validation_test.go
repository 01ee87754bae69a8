package validation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func article(fields map[string]string) Artifact {
	return Artifact{Kind: "article", Fields: fields}
}

func TestLiteralForbidCaseInsensitiveByDefault(t *testing.T) {
	rules := []Rule{{Name: "no-placeholder", Kind: KindLiteral, Pattern: "lorem ipsum", Forbid: true}}

	rep, err := Validate(article(map[string]string{"body": "Lorem Ipsum dolor"}), rules)
	require.NoError(t, err)
	assert.False(t, rep.Valid)
	require.Len(t, rep.Issues, 1)
	assert.Equal(t, Issue{Field: "body", Type: Structural, Rule: "no-placeholder", Detail: `forbidden pattern "lorem ipsum" present`}, rep.Issues[0])
}

func TestLiteralCaseSensitive(t *testing.T) {
	rules := []Rule{{Name: "acronym", Kind: KindLiteral, Pattern: "NDA", Forbid: true, CaseSensitive: true}}

	rep, err := Validate(article(map[string]string{"body": "the nda was signed"}), rules)
	require.NoError(t, err)
	assert.True(t, rep.Valid)
	assert.Empty(t, rep.Issues)
}

func TestRegexRequiredInField(t *testing.T) {
	rules := []Rule{{Name: "byline", Kind: KindRegex, Field: "byline", Pattern: `^by \w+`}}

	rep, err := Validate(article(map[string]string{"byline": "BY Nova"}), rules)
	require.NoError(t, err)
	assert.True(t, rep.Valid, "regex is case-insensitive unless asked")

	rules[0].CaseSensitive = true
	rep, err = Validate(article(map[string]string{"byline": "BY Nova"}), rules)
	require.NoError(t, err)
	assert.False(t, rep.Valid)
}

func TestRequiredField(t *testing.T) {
	rules := []Rule{{Name: "headline", Kind: KindRequired, Field: "headline"}}

	rep, err := Validate(article(map[string]string{"headline": "   "}), rules)
	require.NoError(t, err)
	assert.False(t, rep.Valid)
	assert.Equal(t, "headline", rep.Issues[0].Field)
}

func TestMentionIsAdvisory(t *testing.T) {
	rules := []Rule{{Name: "roster", Kind: KindMention, Values: []string{"Sarah", "Marcus", "Victoria"}}}

	rep, err := Validate(article(map[string]string{"a": "sarah met", "b": "Marcus"}), rules)
	require.NoError(t, err)
	assert.True(t, rep.Valid, "advisory issues never block")
	require.Len(t, rep.Advisory(), 1)
	assert.Contains(t, rep.Issues[0].Detail, "Victoria")
	assert.Empty(t, rep.Structural())
}

func TestUnscopedRequirePatternAnyField(t *testing.T) {
	rules := []Rule{{Name: "cite", Kind: KindLiteral, Pattern: "[tok"}}

	rep, err := Validate(article(map[string]string{"a": "no cite", "b": "see [tok2]"}), rules)
	require.NoError(t, err)
	assert.True(t, rep.Valid)

	rep, err = Validate(article(map[string]string{"a": "no cite"}), rules)
	require.NoError(t, err)
	assert.False(t, rep.Valid)
	assert.Equal(t, "*", rep.Issues[0].Field)
}

func TestRulesScopedToArtifact(t *testing.T) {
	rules := []Rule{{Name: "outline-only", Kind: KindRequired, Field: "sections", Artifact: "outline"}}

	rep, err := Validate(article(map[string]string{}), rules)
	require.NoError(t, err)
	assert.True(t, rep.Valid)
	assert.Len(t, ForArtifact(rules, "article"), 0)
	assert.Len(t, ForArtifact(rules, "outline"), 1)
}

func TestIssuesAreSorted(t *testing.T) {
	rules := []Rule{
		{Name: "z", Kind: KindLiteral, Pattern: "x", Forbid: true},
		{Name: "a", Kind: KindLiteral, Pattern: "x", Forbid: true},
	}
	rep, err := Validate(article(map[string]string{"b": "x", "a": "x"}), rules)
	require.NoError(t, err)
	require.Len(t, rep.Issues, 4)
	assert.Equal(t, []string{"a/a", "a/z", "b/a", "b/z"}, []string{
		rep.Issues[0].Field + "/" + rep.Issues[0].Rule,
		rep.Issues[1].Field + "/" + rep.Issues[1].Rule,
		rep.Issues[2].Field + "/" + rep.Issues[2].Rule,
		rep.Issues[3].Field + "/" + rep.Issues[3].Rule,
	})
}

func TestInvalidRegexIsLoadError(t *testing.T) {
	_, err := ParseRules([]byte("rules:\n  - name: bad\n    kind: regex\n    pattern: \"(unclosed\"\n"))
	require.Error(t, err)
}

func TestLoadRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	data := `rules:
  - name: no-em-dash
    kind: literal
    pattern: "—"
    forbid: true
    artifact: article
  - name: cast
    kind: mention
    values: [Sarah]
    severity: advisory
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, Structural, rules[0].Severity)

	rep, err := Validate(article(map[string]string{"body": "a — b"}), rules)
	require.NoError(t, err)
	assert.False(t, rep.Valid)
	assert.Len(t, rep.Issues, 2)

	none, err := LoadRules("")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestUnknownKindRejected(t *testing.T) {
	_, err := Compile([]Rule{{Name: "x", Kind: "fuzzy"}})
	require.Error(t, err)
}

func TestReportWithMergesAndInvalidates(t *testing.T) {
	rep, err := Validate(article(map[string]string{"body": "fine"}), nil)
	require.NoError(t, err)
	assert.True(t, rep.Valid)

	merged := rep.With(
		Issue{Field: "z", Type: Advisory, Rule: "b", Detail: "hint"},
		Issue{Field: "a", Type: Structural, Rule: "a", Detail: "broken"},
	)
	assert.False(t, merged.Valid)
	require.Len(t, merged.Issues, 2)
	assert.Equal(t, "a", merged.Issues[0].Field)
	assert.Len(t, rep.Issues, 0, "original report is untouched")
}

func TestShippedRulesAreStructural(t *testing.T) {
	rules, err := LoadRules(filepath.Join("..", "..", "config", "rules.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, rules)
	for _, r := range rules {
		assert.Equal(t, Structural, r.Severity, r.Name)
		assert.NotEqual(t, KindMention, r.Kind, r.Name)
	}
}
