package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromHTML_Headings(t *testing.T) {
	html := `<html><head><title>Plan</title></head>
<body>
<h2>Summary</h2>
<p>Hello world.</p>
<script>track()</script>
<h2>Risks</h2>
<ul><li>Cache may go stale</li></ul>
</body></html>`

	a, err := FromHTML(KindPlan, []byte(html))
	require.NoError(t, err)

	assert.Equal(t, []string{"Summary", "Risks"}, a.SectionNames())
	summary, _ := a.Lookup("Summary")
	assert.Contains(t, summary.Content, "Hello world.")
	assert.NotContains(t, a.Raw, "track()")
}

func TestFromHTML_TitleFallback(t *testing.T) {
	html := `<html><head><title>My Plan</title></head><body><p>Only prose.</p></body></html>`

	a, err := FromHTML(KindPlan, []byte(html))
	require.NoError(t, err)

	require.Len(t, a.Sections, 1)
	assert.Equal(t, "My Plan", a.Sections[0].Name)
	assert.Contains(t, a.Sections[0].Content, "Only prose.")
}

func TestFromHTML_NoStructure(t *testing.T) {
	_, err := FromHTML(KindPlan, []byte(`<p>nothing here</p>`))
	assert.ErrorIs(t, err, ErrMalformedDocument)
}
