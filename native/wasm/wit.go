package wasm

import (
	"regexp"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/drawbridge/ctype"
	"github.com/wippyai/drawbridge/errors"
)

// Signature is the native signature of an exported function
type Signature struct {
	Result ctype.Type
	Args   []ctype.Type
}

var funcPattern = regexp.MustCompile(`(?:export\s+)?([a-zA-Z_][a-zA-Z0-9_-]*)\s*:\s*func\s*\(([^)]*)\)(?:\s*->\s*([^;]+))?`)

// ParseSignatures extracts function signatures from WIT text.
// Names are registered both as written and with dashes replaced by
// underscores, the way C toolchains export them.
func ParseSignatures(witText string) (map[string]Signature, error) {
	sigs := make(map[string]Signature)

	for _, match := range funcPattern.FindAllStringSubmatch(witText, -1) {
		name := match[1]
		paramsStr := strings.TrimSpace(match[2])
		resultStr := strings.TrimSpace(match[3])

		var sig Signature
		for _, p := range splitParams(paramsStr) {
			typStr := p
			if idx := strings.Index(p, ":"); idx != -1 {
				typStr = strings.TrimSpace(p[idx+1:])
			}
			t, err := parseType(typStr)
			if err != nil {
				return nil, errors.Wrap(errors.PhaseLoad, errors.KindType, err, "parse param type "+typStr)
			}
			sig.Args = append(sig.Args, t)
		}

		if resultStr != "" && resultStr != "()" {
			if strings.HasPrefix(resultStr, "(") {
				return nil, errors.Unsupported(errors.PhaseLoad, "multiple results in "+name)
			}
			t, err := parseType(resultStr)
			if err != nil {
				return nil, errors.Wrap(errors.PhaseLoad, errors.KindType, err, "parse result type "+resultStr)
			}
			sig.Result = t
		}

		sigs[name] = sig
		sigs[strings.ReplaceAll(name, "-", "_")] = sig
	}

	return sigs, nil
}

func splitParams(s string) []string {
	var result []string
	var current strings.Builder
	depth := 0

	for _, ch := range s {
		switch ch {
		case '(', '<':
			depth++
			current.WriteRune(ch)
		case ')', '>':
			depth--
			current.WriteRune(ch)
		case ',':
			if depth == 0 {
				if str := strings.TrimSpace(current.String()); str != "" {
					result = append(result, str)
				}
				current.Reset()
			} else {
				current.WriteRune(ch)
			}
		default:
			current.WriteRune(ch)
		}
	}

	if str := strings.TrimSpace(current.String()); str != "" {
		result = append(result, str)
	}

	return result
}

// parseType converts a WIT type expression to a native type. Primitives are
// parsed by the wit package; list<T> and tuple<...> are unwrapped here.
func parseType(s string) (ctype.Type, error) {
	w, err := parseWIT(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	return ctype.FromWIT(w)
}

func parseWIT(s string) (wit.Type, error) {
	switch {
	case strings.HasPrefix(s, "list<") && strings.HasSuffix(s, ">"):
		elem, err := parseWIT(s[len("list<") : len(s)-1])
		if err != nil {
			return nil, err
		}
		return &wit.TypeDef{Kind: &wit.List{Type: elem}}, nil
	case strings.HasPrefix(s, "tuple<") && strings.HasSuffix(s, ">"):
		var types []wit.Type
		for _, part := range splitParams(s[len("tuple<") : len(s)-1]) {
			t, err := parseWIT(part)
			if err != nil {
				return nil, err
			}
			types = append(types, t)
		}
		return &wit.TypeDef{Kind: &wit.Tuple{Types: types}}, nil
	}
	return wit.ParseType(s)
}
