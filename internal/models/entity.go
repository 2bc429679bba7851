package models

import "time"

// Kind represents the collection a content entity belongs to
type Kind string

const (
	KindCourse        Kind = "course"
	KindConfig        Kind = "config"
	KindContentObject Kind = "contentobject"
	KindArticle       Kind = "article"
	KindBlock         Kind = "block"
	KindComponent     Kind = "component"
	KindCourseAsset   Kind = "courseasset"
)

// ContentKinds lists the content collections of a course in tree order
var ContentKinds = []Kind{
	KindCourse,
	KindConfig,
	KindContentObject,
	KindArticle,
	KindBlock,
	KindComponent,
}

// Valid reports whether k names one of the content collections
func (k Kind) Valid() bool {
	for _, kind := range ContentKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Content object types stored in the "_type" payload field
const (
	ContentObjectMenu = "menu"
	ContentObjectPage = "page"
)

// Entity represents one node of a course content tree.
// Reserved attributes live in dedicated fields; everything else is kind-specific payload in Data.
type Entity struct {
	ID        string         `json:"_id"`
	Kind      Kind           `json:"-"`
	CourseID  string         `json:"_courseId"`
	ParentID  string         `json:"_parentId,omitempty"`
	SortOrder int            `json:"_sortOrder"`
	CreatedBy string         `json:"createdBy"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Data      map[string]any `json:"-"`
}

// ReservedKeys are document keys that map onto Entity fields rather than payload
var ReservedKeys = []string{"_id", "_courseId", "_parentId", "_sortOrder", "createdBy", "createdAt", "updatedAt"}

// Clone returns a deep copy of the entity
func (e *Entity) Clone() *Entity {
	clone := *e
	clone.Data = CopyMap(e.Data)
	return &clone
}

// Title returns the entity title or an empty string
func (e *Entity) Title() string {
	title, _ := e.Data["title"].(string)
	return title
}

// Type returns the "_type" attribute written to the course JSON.
// Content objects carry their own type (menu or page); other kinds use the kind name.
func (e *Entity) Type() string {
	if t, ok := e.Data["_type"].(string); ok && t != "" {
		return t
	}
	return string(e.Kind)
}

// Document flattens the entity into the JSON shape consumed by the framework
func (e *Entity) Document() map[string]any {
	doc := CopyMap(e.Data)
	if doc == nil {
		doc = make(map[string]any)
	}
	doc["_id"] = e.ID
	doc["_type"] = e.Type()
	doc["_courseId"] = e.CourseID
	if e.ParentID != "" {
		doc["_parentId"] = e.ParentID
	}
	if e.Kind != KindCourse && e.Kind != KindConfig {
		doc["_sortOrder"] = e.SortOrder
	}
	return doc
}

// StripReserved removes reserved keys from a payload map in place
func StripReserved(data map[string]any) {
	for _, key := range ReservedKeys {
		delete(data, key)
	}
}
