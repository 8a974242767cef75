package render

import (
	"regexp"
	"strings"

	"github.com/joseph-ayodele/docbatch/constants"
)

var usePackageRe = regexp.MustCompile(`(?m)^([ \t]*)\\usepackage\[([^\]\n]*)\]\{` + regexp.QuoteMeta(constants.DraftPackage) + `\}`)

// StripDraft removes the draft option from every \usepackage line that loads
// the quiz package, so compiled artifacts are not marked as drafts. An option
// list left empty is dropped entirely. Applying it twice changes nothing.
func StripDraft(doc string) string {
	return usePackageRe.ReplaceAllStringFunc(doc, func(line string) string {
		m := usePackageRe.FindStringSubmatch(line)
		indent, opts := m[1], m[2]

		var kept []string
		for _, o := range strings.Split(opts, ",") {
			o = strings.TrimSpace(o)
			if o == "" || o == constants.DraftOption {
				continue
			}
			kept = append(kept, o)
		}
		if len(kept) == 0 {
			return indent + `\usepackage{` + constants.DraftPackage + `}`
		}
		return indent + `\usepackage[` + strings.Join(kept, ",") + `]{` + constants.DraftPackage + `}`
	})
}
