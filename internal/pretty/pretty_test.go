package pretty

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<!DOCTYPE html><html><head><title>Hi</title>` +
	`<meta charset="utf-8"></head><body><!-- nav -->` +
	`<p>Hello <em>there</em></p><br><pre>  a
  b</pre></body></html>`

const pageFormatted = `<!DOCTYPE html>
<html>
  <head>
    <title>
      Hi
    </title>
    <meta charset="utf-8">
  </head>
  <body>
    <!-- nav -->
    <p>
      Hello
      <em>
        there
      </em>
    </p>
    <br>
    <pre>  a
  b</pre>
  </body>
</html>
`

func TestFormat(t *testing.T) {
	got, err := Format(page, DefaultRules())
	require.NoError(t, err)
	assert.Equal(t, pageFormatted, got)
}

func TestFormat_Idempotent(t *testing.T) {
	once, err := Format(page, DefaultRules())
	require.NoError(t, err)

	twice, err := Format(once, DefaultRules())
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestFormat_IndentSize(t *testing.T) {
	got, err := Format("<div><span>x</span></div>", Rules{IndentSize: 4, Unformatted: []string{"pre"}})
	require.NoError(t, err)
	assert.Equal(t, "<div>\n    <span>\n        x\n    </span>\n</div>\n", got)
}

func TestFormat_UnformattedInline(t *testing.T) {
	got, err := Format("<p>Use <code>go  vet</code> often</p>", DefaultRules())
	require.NoError(t, err)
	assert.Equal(t, "<p>\n  Use\n  <code>go  vet</code>\n  often\n</p>\n", got)
}

func TestFormat_NestedVerbatim(t *testing.T) {
	src := "<pre><pre>x</pre>  </pre><hr>"
	got, err := Format(src, DefaultRules())
	require.NoError(t, err)
	assert.Equal(t, "<pre><pre>x</pre>  </pre>\n<hr>\n", got)
}

func TestFormat_Empty(t *testing.T) {
	got, err := Format("", DefaultRules())
	require.NoError(t, err)
	assert.Equal(t, "", got)

	got, err = Format("   \n\t", Rules{})
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestFormat_OCDCondensesVerbatimBlankLines(t *testing.T) {
	src := "<textarea>a   \n\n\n\nb</textarea>"

	plain, err := Format(src, Rules{})
	require.NoError(t, err)
	assert.Equal(t, "<textarea>a   \n\n\n\nb</textarea>\n", plain)

	ocd, err := Format(src, Rules{OCD: true})
	require.NoError(t, err)
	assert.Equal(t, "<textarea>a\n\nb</textarea>\n", ocd)
}

func TestTransformer(t *testing.T) {
	got, err := Transformer{}.Transform("<b>x</b>", Rules{Unformatted: []string{"pre"}})
	require.NoError(t, err)
	assert.Equal(t, "<b>\n  x\n</b>\n", got)
}

func TestFormat_OmittedEndTags(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "list items",
			src:  "<ul><li>one<li>two</ul><p>after",
			want: "<ul>\n  <li>\n    one\n  <li>\n    two\n</ul>\n<p>\n  after\n",
		},
		{
			name: "paragraphs",
			src:  "<p>a<p>b<div>c</div>",
			want: "<p>\n  a\n<p>\n  b\n<div>\n  c\n</div>\n",
		},
		{
			name: "table cells and rows",
			src:  "<table><tr><td>1<td>2<tr><td>3</table>",
			want: "<table>\n  <tr>\n    <td>\n      1\n    <td>\n      2\n  <tr>\n    <td>\n      3\n</table>\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Format(tt.src, DefaultRules())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			again, err := Format(got, DefaultRules())
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestFormat_StrayEndTagsKeepDepth(t *testing.T) {
	got, err := Format("<div>a<br></br></span>b</div><hr>", DefaultRules())
	require.NoError(t, err)
	assert.Equal(t, "<div>\n  a\n  <br>\n  </br>\n  </span>\n  b\n</div>\n<hr>\n", got)
}
