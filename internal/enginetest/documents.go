package enginetest

import (
	"strings"
)

type blueprint struct {
	title       string
	titleOffset int
	titleLength int
	description string
}

// scan finds the API name heading, skipping a leading metadata block.
func scan(text string) blueprint {
	var bp blueprint
	offset := 0
	inMetadata := true
	var desc []string

	for _, line := range strings.SplitAfter(text, "\n") {
		trimmed := strings.TrimRight(line, "\r\n")
		switch {
		case bp.title == "" && strings.HasPrefix(trimmed, "# "):
			bp.title = strings.TrimSpace(trimmed[2:])
			bp.titleOffset = offset
			bp.titleLength = len(line)
			inMetadata = false
		case inMetadata && (trimmed == "" || strings.Contains(trimmed, ":")):
		case bp.title != "" && trimmed != "":
			desc = append(desc, trimmed)
		default:
			inMetadata = false
		}
		offset += len(line)
	}

	bp.description = strings.Join(desc, "\n")
	return bp
}

func str(v string) map[string]any {
	return map[string]any{"element": "string", "content": v}
}

func num(v int) map[string]any {
	return map[string]any{"element": "number", "content": v}
}

func classes(names ...string) map[string]any {
	content := make([]any, 0, len(names))
	for _, n := range names {
		content = append(content, str(n))
	}
	return map[string]any{"element": "array", "content": content}
}

func missingNameAnnotation() map[string]any {
	return map[string]any{
		"element": "annotation",
		"meta": map[string]any{
			"classes": classes("error"),
		},
		"attributes": map[string]any{
			"code": num(MissingNameCode),
		},
		"content": MissingNameMessage,
	}
}

func refractDocument(bp blueprint, requireName, sourcemap bool) map[string]any {
	title := str(bp.title)
	if sourcemap && bp.title != "" {
		title["attributes"] = map[string]any{
			"sourceMap": map[string]any{
				"element": "array",
				"content": []any{
					map[string]any{
						"element": "sourceMap",
						"content": []any{
							map[string]any{
								"element": "array",
								"content": []any{num(bp.titleOffset), num(bp.titleLength)},
							},
						},
					},
				},
			},
		}
	}

	content := []any{}
	if bp.description != "" {
		content = append(content, map[string]any{"element": "copy", "content": bp.description})
	}

	api := map[string]any{
		"element": "category",
		"meta": map[string]any{
			"classes": classes("api"),
			"title":   title,
		},
		"content": content,
	}

	result := []any{api}
	if requireName && bp.title == "" {
		result = append(result, missingNameAnnotation())
	}

	return map[string]any{
		"element": "parseResult",
		"content": result,
	}
}

func astDocument(bp blueprint, requireName bool) map[string]any {
	doc := map[string]any{
		"_version": "4.0",
		"ast": map[string]any{
			"_version":       "4.0",
			"metadata":       []any{},
			"name":           bp.title,
			"description":    bp.description,
			"element":        "category",
			"resourceGroups": []any{},
			"content":        []any{},
		},
		"error":    nil,
		"warnings": []any{},
	}
	if requireName && bp.title == "" {
		doc["error"] = map[string]any{
			"code":    MissingNameCode,
			"message": MissingNameMessage,
		}
	}
	return doc
}
