package compiler

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/roach88/depflow/internal/ir"
)

// maxSuggestions caps the names LookupAPIName offers on a miss.
const maxSuggestions = 3

// LookupAPIName finds the declaration whose api_name equals name, ignoring
// case. On a miss it returns up to three api names that fuzzily match
// name, closest first.
func LookupAPIName(decls []ir.Declaration, name string) (ir.Declaration, []string, bool) {
	var names []string
	for _, d := range decls {
		if d.APIName == "" {
			continue
		}
		if strings.EqualFold(d.APIName, name) {
			return d, nil, true
		}
		names = append(names, d.APIName)
	}

	ranks := fuzzy.RankFindNormalizedFold(name, names)
	sort.Sort(ranks)

	var suggestions []string
	for _, r := range ranks {
		if len(suggestions) == maxSuggestions {
			break
		}
		suggestions = append(suggestions, r.Target)
	}
	return ir.Declaration{}, suggestions, false
}
