package publish

import (
	"context"
	"fmt"
)

// courseAlias replaces the course identifier in the build; the framework expects it literally
const courseAlias = "course"

func (p *Publisher) sanitize(ctx context.Context, st *state) error {
	doc := st.doc

	doc.Course["_id"] = courseAlias
	doc.Course["_type"] = courseAlias

	for _, list := range [][]map[string]any{doc.ContentObjects, doc.Articles, doc.Blocks, doc.Components} {
		for _, d := range list {
			if parentID, _ := d["_parentId"].(string); parentID == st.courseID {
				d["_parentId"] = courseAlias
			}
		}
	}

	for i, block := range doc.Blocks {
		block["_trackingId"] = i + 1
	}

	for _, component := range doc.Components {
		props, ok := component["properties"].(map[string]any)
		if !ok {
			continue
		}
		delete(component, "properties")
		for k, v := range props {
			component[k] = v
		}
	}

	if st.opts.Mode != ModePreview {
		delete(doc.Course, "_themePreset")
		delete(doc.Config, "_themePreset")
	}

	includes, err := p.includes.ResolvePluginIncludes(ctx, st.pluginConfig)
	if err != nil {
		return fmt.Errorf("failed to resolve plugin includes: %w", err)
	}
	st.includes = includes
	return nil
}
