package publish

import (
	"context"
	"fmt"

	"github.com/adaptauthoring/backend/internal/apperr"
	"github.com/adaptauthoring/backend/internal/models"
	"github.com/adaptauthoring/backend/internal/plugins"
)

// nestedKeys are lifted up one level when the course is assembled
var nestedKeys = []string{"_extensions", "menuSettings", "themeSettings"}

// parentKinds lists, per collection, which collections may hold the parent of its documents
var parentKinds = map[models.Kind][]models.Kind{
	models.KindContentObject: {models.KindCourse, models.KindContentObject},
	models.KindArticle:       {models.KindContentObject},
	models.KindBlock:         {models.KindArticle},
	models.KindComponent:     {models.KindBlock},
}

func (p *Publisher) assemble(ctx context.Context, st *state) error {
	course, err := p.content.GetByID(ctx, models.KindCourse, st.courseID)
	if err != nil {
		return fmt.Errorf("failed to get course: %w", err)
	}
	st.course = course

	configs, err := p.content.GetByCourse(ctx, models.KindConfig, st.courseID)
	if err != nil {
		return fmt.Errorf("failed to get course config: %w", err)
	}
	if len(configs) == 0 {
		return apperr.NotFound("config", st.courseID)
	}

	doc := &courseDocument{
		Course: course.Document(),
		Config: configs[0].Document(),
	}
	st.pluginConfig = plugins.ConfigFromData(configs[0].Data)
	st.themeSettings, _ = models.MapAt(course.Data, "themeSettings")
	st.menuSettings, _ = models.MapAt(course.Data, "menuSettings")

	lists := []struct {
		kind models.Kind
		dst  *[]map[string]any
	}{
		{models.KindContentObject, &doc.ContentObjects},
		{models.KindArticle, &doc.Articles},
		{models.KindBlock, &doc.Blocks},
		{models.KindComponent, &doc.Components},
	}
	for _, l := range lists {
		entities, err := p.content.GetByCourse(ctx, l.kind, st.courseID)
		if err != nil {
			return fmt.Errorf("failed to get %s entities: %w", l.kind, err)
		}
		docs := make([]map[string]any, 0, len(entities))
		for i := range entities {
			docs = append(docs, entities[i].Document())
		}
		*l.dst = docs
	}

	for _, obj := range doc.objects() {
		flattenNested(obj)
	}
	st.doc = doc
	return nil
}

// flattenNested lifts the keys of nested settings objects to the top level of obj.
// Keys already present at the top level win; the wrapper objects are removed.
func flattenNested(obj map[string]any) {
	for _, key := range nestedKeys {
		nested, ok := obj[key].(map[string]any)
		if !ok {
			continue
		}
		delete(obj, key)
		for k, v := range nested {
			if _, taken := obj[k]; !taken {
				obj[k] = v
			}
		}
	}
}

func (p *Publisher) validate(ctx context.Context, st *state) error {
	var problems []string
	if st.pluginConfig.Theme == "" {
		problems = append(problems, "config has no theme selected")
	}
	if st.pluginConfig.Menu == "" {
		problems = append(problems, "config has no menu selected")
	}

	ids := map[models.Kind]map[string]bool{
		models.KindCourse: {st.courseID: true},
	}
	lists := []struct {
		kind models.Kind
		docs []map[string]any
	}{
		{models.KindContentObject, st.doc.ContentObjects},
		{models.KindArticle, st.doc.Articles},
		{models.KindBlock, st.doc.Blocks},
		{models.KindComponent, st.doc.Components},
	}

	for _, l := range lists {
		ids[l.kind] = make(map[string]bool, len(l.docs))
		for _, d := range l.docs {
			id, _ := d["_id"].(string)
			if id == "" {
				problems = append(problems, fmt.Sprintf("%s without _id", l.kind))
				continue
			}
			if ids[l.kind][id] {
				problems = append(problems, fmt.Sprintf("duplicate %s %s", l.kind, id))
			}
			ids[l.kind][id] = true
		}
	}

	for _, l := range lists {
		for _, d := range l.docs {
			id, _ := d["_id"].(string)
			parentID, _ := d["_parentId"].(string)
			if parentID == "" {
				problems = append(problems, fmt.Sprintf("%s %s has no _parentId", l.kind, id))
				continue
			}
			found := false
			for _, kind := range parentKinds[l.kind] {
				if ids[kind][parentID] {
					found = true
					break
				}
			}
			if !found {
				problems = append(problems, fmt.Sprintf("%s %s has unknown parent %s", l.kind, id, parentID))
			}
		}
	}

	for _, d := range st.doc.Components {
		if c, _ := d["_component"].(string); c == "" {
			problems = append(problems, fmt.Sprintf("component %v has no _component", d["_id"]))
		}
	}

	if len(problems) > 0 {
		return &apperr.ValidationError{Problems: problems}
	}
	return nil
}
