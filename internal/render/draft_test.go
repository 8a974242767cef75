package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripDraft(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"only option", `\usepackage[draft]{moodle}`, `\usepackage{moodle}`},
		{"leading", `\usepackage[draft,tikz]{moodle}`, `\usepackage[tikz]{moodle}`},
		{"trailing with space", `\usepackage[tikz, draft]{moodle}`, `\usepackage[tikz]{moodle}`},
		{"empty list", `\usepackage[]{moodle}`, `\usepackage{moodle}`},
		{"indented", "  \\usepackage[draft]{moodle}", "  \\usepackage{moodle}"},
		{"no options", `\usepackage{moodle}`, `\usepackage{moodle}`},
		{"other package", `\usepackage[draft]{graphicx}`, `\usepackage[draft]{graphicx}`},
		{"commented out", `% \usepackage[draft]{moodle}`, `% \usepackage[draft]{moodle}`},
		{
			"within document",
			"\\documentclass{article}\n\\usepackage[draft]{moodle}\n\\begin{document}\ndraft\n\\end{document}\n",
			"\\documentclass{article}\n\\usepackage{moodle}\n\\begin{document}\ndraft\n\\end{document}\n",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			once := StripDraft(tc.in)
			assert.Equal(t, tc.want, once)
			assert.Equal(t, once, StripDraft(once), "second application must be a no-op")
		})
	}
}
