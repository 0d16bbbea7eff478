package params

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/genecraft/genecraft/internal/models"
)

// ValidationError describes a rejected submission. The message is safe
// to surface to the caller as-is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// DefaultMinCount is applied when min_count is absent or non-numeric
const DefaultMinCount = 2

// Input carries the raw, request-supplied parameters before validation.
// MinCount is untyped because clients send it as a number, a string, or
// not at all.
type Input struct {
	Organism   string
	Method     string
	Library    string
	MinCount   interface{}
	GroupMap   map[string]string
	HasGeneSet bool // a gene set definition file was uploaded alongside
}

var (
	organisms = map[string]bool{"human": true, "mouse": true}
	methods   = map[string]bool{"edger": true, "deseq2": true}
	libraries = map[string]bool{"kegg": true, "reactome": true, "hallmark": true, "go": true, "biocarta": true, "custom": true}
)

// Validate checks raw parameters against the schema for kind and
// returns the validated, immutable parameter set. It never coerces an
// invalid enum; numeric min_count falls back to its default instead.
func Validate(kind models.Kind, in Input) (models.Params, error) {
	switch kind {
	case models.KindDEG:
		return validateDEG(in)
	case models.KindPathway:
		return validatePathway(in)
	case models.KindID2Symbol:
		return validateID2Symbol(in)
	case models.KindSSGSEA:
		// ssgsea takes no form parameters beyond its two files
		return models.Params{}, nil
	default:
		return models.Params{}, invalid("kind", fmt.Sprintf("Unknown analysis kind %q.", kind))
	}
}

func validateDEG(in Input) (models.Params, error) {
	method := strings.ToLower(strings.TrimSpace(in.Method))
	if !methods[method] {
		return models.Params{}, invalid("method", "Unsupported method. Use edger or deseq2.")
	}

	groupMap, err := validateGroupMap(in.GroupMap)
	if err != nil {
		return models.Params{}, err
	}

	return models.Params{
		Method:   method,
		MinCount: parseMinCount(in.MinCount),
		GroupMap: groupMap,
	}, nil
}

func validatePathway(in Input) (models.Params, error) {
	organism := strings.ToLower(strings.TrimSpace(in.Organism))
	if !organisms[organism] {
		return models.Params{}, invalid("organism", "Organism must be Human or Mouse.")
	}

	library := strings.ToLower(strings.TrimSpace(in.Library))
	if !libraries[library] {
		return models.Params{}, invalid("library", "Library must be KEGG, Reactome, Hallmark, GO, BioCarta, or Custom.")
	}
	if library == "custom" && !in.HasGeneSet {
		return models.Params{}, invalid("gmt", "Custom dataset selected. Upload a GMT file.")
	}

	return models.Params{Organism: organism, Library: library}, nil
}

func validateID2Symbol(in Input) (models.Params, error) {
	organism := strings.ToLower(strings.TrimSpace(in.Organism))
	if !organisms[organism] {
		return models.Params{}, invalid("organism", "Organism must be Human or Mouse.")
	}
	return models.Params{Organism: organism}, nil
}

// validateGroupMap enforces the two-group comparison rule: every
// assigned value must be A or B and both groups need at least one
// member. Samples left unassigned are excluded from the comparison, not
// an error.
func validateGroupMap(groupMap map[string]string) (map[string]string, error) {
	assigned := make(map[string]string)
	seen := map[string]bool{}
	for sample, group := range groupMap {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}
		if group != "A" && group != "B" {
			return nil, invalid("group_map",
				fmt.Sprintf("Sample %q assigned to unknown group %q. Use A or B.", sample, group))
		}
		assigned[sample] = group
		seen[group] = true
	}
	if !seen["A"] || !seen["B"] {
		return nil, invalid("group_map", "Select samples for both Group A and Group B.")
	}
	return assigned, nil
}

// parseMinCount coerces the raw min_count to a non-negative int,
// falling back to the default when absent or non-numeric
func parseMinCount(raw interface{}) int {
	n := DefaultMinCount
	switch v := raw.(type) {
	case nil:
	case int:
		n = v
	case float64:
		n = int(v)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err == nil {
			n = parsed
		}
	}
	if n < 0 {
		n = 0
	}
	return n
}
